package services

import (
	"context"
	"fmt"
	"testing"

	"affiliate-commission-system/testutil"

	"github.com/stretchr/testify/require"
)

func childIDs(nodes []*DownlineNode) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.UserID)
	}
	return ids
}

func TestBuildDownlineDepthCap(t *testing.T) {
	var edges []downlineEdge
	prev := "root"
	for i := 1; i <= 15; i++ {
		id := fmt.Sprintf("c%d", i)
		edges = append(edges, downlineEdge{ReferrerID: prev, ReferredID: id})
		prev = id
	}

	tree := buildDownline("root", edges, nil, MaxDownlineDepth)
	require.Equal(t, 10, tree.TotalNodes)
	require.Equal(t, 10, tree.MaxLevel)

	node := tree.Children[0]
	for node.Level < 10 {
		require.Len(t, node.Children, 1)
		node = node.Children[0]
	}
	require.Equal(t, "c10", node.UserID)
	require.Empty(t, node.Children)
}

func TestBuildDownlineCycle(t *testing.T) {
	edges := []downlineEdge{
		{ReferrerID: "root", ReferredID: "a"},
		{ReferrerID: "a", ReferredID: "b"},
		{ReferrerID: "b", ReferredID: "a"},
		{ReferrerID: "b", ReferredID: "root"},
	}
	snaps := map[string]downlineSnapshot{
		"a": {UserID: "a", DisplayName: "Alpha", Active: true, WeeklyEarnings: 70},
	}

	tree := buildDownline("root", edges, snaps, MaxDownlineDepth)
	require.Equal(t, 2, tree.TotalNodes)
	require.Equal(t, 2, tree.MaxLevel)

	a := tree.Children[0]
	require.Equal(t, "Alpha", a.DisplayName)
	require.True(t, a.Active)
	require.Equal(t, int64(70), a.WeeklyEarnings)
	require.Equal(t, []string{"b"}, childIDs(a.Children))
	require.Empty(t, a.Children[0].Children)
}

func TestBuildDownlineUnknownRoot(t *testing.T) {
	tree := buildDownline("nobody", []downlineEdge{{ReferrerID: "x", ReferredID: "y"}}, nil, MaxDownlineDepth)
	require.Zero(t, tree.TotalNodes)
	require.NotNil(t, tree.Children)
	require.Empty(t, tree.Children)
}

func TestDownlineTree(t *testing.T) {
	db := testutil.NewDB(t)
	affiliates := newAffiliates(t, db)

	a := enroll(t, affiliates, "A", nil)
	b := enroll(t, affiliates, "B", a)
	enroll(t, affiliates, "C", a)
	enroll(t, affiliates, "D", b)
	enroll(t, affiliates, "Z", nil)
	require.NoError(t, affiliates.Deactivate(context.Background(), adminCaller, "C"))

	tree, err := NewDownlineService(db).Tree(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, "User A", tree.DisplayName)
	require.Equal(t, 3, tree.TotalNodes)
	require.Equal(t, 2, tree.MaxLevel)
	require.ElementsMatch(t, []string{"B", "C"}, childIDs(tree.Children))

	for _, n := range tree.Children {
		switch n.UserID {
		case "B":
			require.True(t, n.Active)
			require.Equal(t, []string{"D"}, childIDs(n.Children))
			require.Equal(t, 2, n.Children[0].Level)
		case "C":
			require.False(t, n.Active)
			require.Empty(t, n.Children)
		}
	}

	empty, err := NewDownlineService(db).Tree(context.Background(), "Z")
	require.NoError(t, err)
	require.Zero(t, empty.TotalNodes)
}
