package app

import (
	"reflect"
	"testing"

	"serotonyl.ru/engagement-engine/internal/config"
	"serotonyl.ru/engagement-engine/internal/features/antigaming"
	"serotonyl.ru/engagement-engine/internal/features/consensus"
)

func TestPoliciesFromDefaultConfig(t *testing.T) {
	t.Setenv("DB_PASSWORD", "secret")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	if got, want := AntiGamingThresholds(cfg), antigaming.DefaultThresholds(); got != want {
		t.Errorf("AntiGamingThresholds() = %+v, want %+v", got, want)
	}
	if got, want := ConsensusPolicy(cfg), consensus.DefaultPolicy(); !reflect.DeepEqual(got, want) {
		t.Errorf("ConsensusPolicy() = %+v, want %+v", got, want)
	}
}

func TestMigrationsAreOrdered(t *testing.T) {
	for i, m := range migrations {
		if m.version != i+1 {
			t.Errorf("migrations[%d].version = %d, want %d", i, m.version, i+1)
		}
		if m.sql == "" {
			t.Errorf("migration %d is empty", m.version)
		}
	}
}
