package params

import (
	"errors"
	"testing"

	"github.com/verdikt-labs/verdikt/internal/domain"
)

func TestSharesValidate(t *testing.T) {
	good := Shares{ExecutorBps: 7_000, ProviderBps: 2_000, ValidatorBps: 1_000}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid shares rejected: %v", err)
	}

	short := Shares{ExecutorBps: 7_000, ProviderBps: 2_000, ValidatorBps: 999}
	if err := short.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("shares summing to 9999: got %v, want ErrValidation", err)
	}

	negative := Shares{ExecutorBps: 11_000, ProviderBps: -1_000, ValidatorBps: 0}
	if err := negative.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("negative share: got %v, want ErrValidation", err)
	}
}

func TestDefaultsValid(t *testing.T) {
	p := Defaults("0xowner")
	if err := p.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if p.Owner != "0xowner" || p.FeeRecipient != "0xowner" || p.ValidatorPool != "0xowner" {
		t.Error("owner not propagated into defaults")
	}
	if p.Shares.ExecutorBps != 7_000 {
		t.Errorf("executor share = %d, want 7000", p.Shares.ExecutorBps)
	}
	if p.Paused {
		t.Error("defaults start paused")
	}
}

func TestParamsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero challenge period", func(p *Params) { p.ChallengePeriod = 0 }},
		{"zero juror stake", func(p *Params) { p.MinJurorStake = 0 }},
		{"zero cooldown", func(p *Params) { p.UnregisterCooldown = 0 }},
		{"threshold above whole", func(p *Params) { p.ConsensusThreshold = 10_001 }},
		{"zero min jurors", func(p *Params) { p.MinJurors = 0 }},
		{"missing owner", func(p *Params) { p.Owner = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Defaults("0xowner")
			tc.mutate(&p)
			if err := p.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("got %v, want ErrValidation", err)
			}
		})
	}
}
