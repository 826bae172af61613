package services

import (
	"context"
	"testing"
	"time"

	"affiliate-commission-system/testutil"

	"github.com/stretchr/testify/require"
)

func TestStartSchedulerRegistersJobs(t *testing.T) {
	db := testutil.NewDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched, err := StartScheduler(ctx, newProcessor(t, db, &fakeGateway{}), newAffiliates(t, db), time.Hour)
	require.NoError(t, err)
	defer func() { require.NoError(t, sched.Shutdown()) }()

	names := map[string]bool{}
	for _, j := range sched.Jobs() {
		names[j.Name()] = true
	}
	require.Equal(t, map[string]bool{"payout-batch": true, "earnings-refresh": true}, names)

	for _, j := range sched.Jobs() {
		if j.Name() != "payout-batch" {
			continue
		}
		next, err := j.NextRun()
		require.NoError(t, err)
		require.Contains(t, []time.Weekday{time.Monday, time.Friday}, next.UTC().Weekday())
		require.Equal(t, 9, next.UTC().Hour())
	}
}
