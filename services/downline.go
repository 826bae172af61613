// services/downline.go
package services

import (
	"context"
	"fmt"

	"affiliate-commission-system/models"

	"gorm.io/gorm"
)

// MaxDownlineDepth caps tree expansion independently of cycle detection.
const MaxDownlineDepth = 10

type DownlineNode struct {
	UserID         string          `json:"user_id"`
	DisplayName    string          `json:"display_name"`
	Level          int             `json:"level"` // distance from the root, 1-based
	Active         bool            `json:"active"`
	WeeklyEarnings int64           `json:"weekly_earnings"`
	Children       []*DownlineNode `json:"children"`
}

type DownlineTree struct {
	RootUserID  string          `json:"root_user_id"`
	DisplayName string          `json:"display_name,omitempty"`
	Children    []*DownlineNode `json:"children"`
	TotalNodes  int             `json:"total_nodes"`
	MaxLevel    int             `json:"max_level"`
}

// downlineEdge and downlineSnapshot are the two bulk-loaded inputs.
type downlineEdge struct {
	ReferrerID string
	ReferredID string
}

type downlineSnapshot struct {
	UserID         string
	DisplayName    string
	Active         bool
	WeeklyEarnings int64
}

type DownlineService struct {
	DB *gorm.DB
}

func NewDownlineService(db *gorm.DB) *DownlineService {
	return &DownlineService{DB: db}
}

// Tree loads every edge and every profile snapshot in two queries and builds
// the root's subtree in memory. An unknown root yields an empty tree.
func (s *DownlineService) Tree(ctx context.Context, rootUserID string) (*DownlineTree, error) {
	var edges []downlineEdge
	if err := s.DB.WithContext(ctx).Model(&models.ReferralEdge{}).
		Select("referrer_id", "referred_id").
		Order("created_at ASC, id ASC").
		Scan(&edges).Error; err != nil {
		return nil, fmt.Errorf("load referral edges: %w", err)
	}

	var snaps []downlineSnapshot
	if err := s.DB.WithContext(ctx).Model(&models.AffiliateProfile{}).
		Select("user_id", "display_name", "active", "weekly_earnings").
		Scan(&snaps).Error; err != nil {
		return nil, fmt.Errorf("load earnings snapshots: %w", err)
	}

	byUser := make(map[string]downlineSnapshot, len(snaps))
	for _, sn := range snaps {
		byUser[sn.UserID] = sn
	}

	return buildDownline(rootUserID, edges, byUser, MaxDownlineDepth), nil
}

func buildDownline(rootUserID string, edges []downlineEdge, snaps map[string]downlineSnapshot, maxDepth int) *DownlineTree {
	children := make(map[string][]string)
	for _, e := range edges {
		children[e.ReferrerID] = append(children[e.ReferrerID], e.ReferredID)
	}

	tree := &DownlineTree{
		RootUserID:  rootUserID,
		DisplayName: snaps[rootUserID].DisplayName,
		Children:    []*DownlineNode{},
	}

	visited := map[string]bool{rootUserID: true}

	var expand func(parentID string, level int) []*DownlineNode
	expand = func(parentID string, level int) []*DownlineNode {
		nodes := []*DownlineNode{}
		if level > maxDepth {
			return nodes
		}
		for _, childID := range children[parentID] {
			if visited[childID] {
				continue
			}
			visited[childID] = true

			sn := snaps[childID]
			node := &DownlineNode{
				UserID:         childID,
				DisplayName:    sn.DisplayName,
				Level:          level,
				Active:         sn.Active,
				WeeklyEarnings: sn.WeeklyEarnings,
			}
			tree.TotalNodes++
			if level > tree.MaxLevel {
				tree.MaxLevel = level
			}
			node.Children = expand(childID, level+1)
			nodes = append(nodes, node)
		}
		return nodes
	}

	tree.Children = expand(rootUserID, 1)
	return tree
}
