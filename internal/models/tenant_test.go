package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTenantStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to TenantStatus
		ok       bool
	}{
		{StatusPending, StatusProvisioning, true},
		{StatusProvisioning, StatusActive, true},
		{StatusProvisioning, StatusFailed, true},
		{StatusFailed, StatusProvisioning, true},
		{StatusFailed, StatusTerminated, true},
		{StatusActive, StatusSuspended, true},
		{StatusActive, StatusTerminated, true},
		{StatusSuspended, StatusActive, true},
		{StatusSuspended, StatusTerminated, true},

		{StatusPending, StatusActive, false},
		{StatusPending, StatusSuspended, false},
		{StatusActive, StatusProvisioning, false},
		{StatusSuspended, StatusProvisioning, false},
		{StatusTerminated, StatusActive, false},
		{StatusTerminated, StatusProvisioning, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionMutatesOnlyWhenLegal(t *testing.T) {
	tn := &Tenant{Status: StatusActive}
	require.NoError(t, tn.Transition(StatusSuspended))
	require.Equal(t, StatusSuspended, tn.Status)

	require.Error(t, tn.Transition(StatusProvisioning))
	require.Equal(t, StatusSuspended, tn.Status)
}

func TestStagingDomain(t *testing.T) {
	tn := &Tenant{Domain: "shop.example.com"}
	require.Equal(t, "staging-1.shop.example.com", tn.StagingDomain(1))
	require.Equal(t, "staging-12.shop.example.com", tn.StagingDomain(12))
}

func TestHasCredentials(t *testing.T) {
	tn := &Tenant{}
	require.False(t, tn.HasCredentials())
	tn.DBName = "shop_ab"
	require.False(t, tn.HasCredentials())
	tn.DBPassword = "pw"
	require.True(t, tn.HasCredentials())
}

func TestPlatformNeedsEdgeCache(t *testing.T) {
	require.False(t, PlatformWooCommerce.NeedsEdgeCache())
	require.True(t, PlatformMagento.NeedsEdgeCache())
}
