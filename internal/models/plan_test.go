package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTypeExpiresAt(t *testing.T) {
	startedAt := time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

	t.Run("monthly adds one calendar month", func(t *testing.T) {
		expires := PlanMonthly.ExpiresAt(startedAt)
		require.NotNil(t, expires)
		assert.Equal(t, time.Date(2026, time.April, 15, 10, 30, 0, 0, time.UTC), *expires)
	})

	t.Run("yearly adds one year", func(t *testing.T) {
		expires := PlanYearly.ExpiresAt(startedAt)
		require.NotNil(t, expires)
		assert.Equal(t, time.Date(2027, time.March, 15, 10, 30, 0, 0, time.UTC), *expires)
	})

	t.Run("lifetime never expires", func(t *testing.T) {
		assert.Nil(t, PlanLifetime.ExpiresAt(startedAt))
	})

	t.Run("month overflow normalizes", func(t *testing.T) {
		endOfJanuary := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)
		expires := PlanMonthly.ExpiresAt(endOfJanuary)
		require.NotNil(t, expires)
		assert.Equal(t, time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC), *expires)
	})
}

func TestParsePlanType(t *testing.T) {
	tests := []struct {
		in     string
		want   PlanType
		wantOK bool
	}{
		{in: "monthly", want: PlanMonthly, wantOK: true},
		{in: "YEARLY", want: PlanYearly, wantOK: true},
		{in: " lifetime ", want: PlanLifetime, wantOK: true},
		{in: "Plano Mensal", want: PlanMonthly, wantOK: true},
		{in: "assinatura anual", want: PlanYearly, wantOK: true},
		{in: "Acesso Vitalício", want: PlanLifetime, wantOK: true},
		{in: "", wantOK: false},
		{in: "gold", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ParsePlanType(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestSubscriptionEffectiveStatus(t *testing.T) {
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name   string
		sub    Subscription
		want   SubscriptionStatus
		access bool
	}{
		{name: "active lifetime", sub: Subscription{Status: SubscriptionActive}, want: SubscriptionActive, access: true},
		{name: "active in window", sub: Subscription{Status: SubscriptionActive, ExpiresAt: &future}, want: SubscriptionActive, access: true},
		{name: "active past window", sub: Subscription{Status: SubscriptionActive, ExpiresAt: &past}, want: SubscriptionExpired, access: false},
		{name: "cancelled", sub: Subscription{Status: SubscriptionCancelled, ExpiresAt: &future}, want: SubscriptionCancelled, access: false},
		{name: "pending", sub: Subscription{Status: SubscriptionPending}, want: SubscriptionPending, access: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.EffectiveStatus(now))
			assert.Equal(t, tt.access, tt.sub.GrantsAccess(now))
		})
	}
}
