package main

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/security"
)

type fixture struct {
	RevenueShare *decimal.Decimal `yaml:"revenueShare"`
	Stations     []stationFixture `yaml:"stations"`
	Users        []userFixture    `yaml:"users"`
}

type stationFixture struct {
	Identity   string             `yaml:"identity"`
	Owner      string             `yaml:"owner"`
	Password   string             `yaml:"password"`
	Active     *bool              `yaml:"active"`
	Vendor     string             `yaml:"vendor"`
	Model      string             `yaml:"model"`
	Connectors []connectorFixture `yaml:"connectors"`
	Tariff     *tariffFixture     `yaml:"tariff"`
}

type connectorFixture struct {
	Number  int             `yaml:"number"`
	PowerKw decimal.Decimal `yaml:"powerKw"`
}

type tariffFixture struct {
	PricePerKwh    decimal.Decimal `yaml:"pricePerKwh"`
	PricePerMinute decimal.Decimal `yaml:"pricePerMinute"`
	SessionFee     decimal.Decimal `yaml:"sessionFee"`
	Currency       string          `yaml:"currency"`
}

type userFixture struct {
	IDTag   string           `yaml:"idTag"`
	Name    string           `yaml:"name"`
	Email   string           `yaml:"email"`
	Active  *bool            `yaml:"active"`
	Balance *decimal.Decimal `yaml:"balance"`
}

func parseFixture(r io.Reader) (*fixture, error) {
	var f fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decode fixture")
	}

	seen := make(map[string]bool)
	for _, st := range f.Stations {
		if st.Identity == "" {
			return nil, errors.New("station without identity")
		}
		if seen[st.Identity] {
			return nil, errors.Errorf("station %s listed twice", st.Identity)
		}
		seen[st.Identity] = true
		for _, c := range st.Connectors {
			if c.Number <= 0 {
				return nil, errors.Errorf("station %s: connector numbers start at 1", st.Identity)
			}
		}
		if st.Tariff != nil && st.Tariff.PricePerKwh.Sign() < 0 {
			return nil, errors.Errorf("station %s: negative price", st.Identity)
		}
	}
	for _, u := range f.Users {
		if u.IDTag == "" {
			return nil, errors.New("user without idTag")
		}
	}
	return &f, nil
}

func (s stationFixture) station() models.Station {
	st := models.Station{
		Identity: s.Identity,
		OwnerID:  s.Owner,
		IsActive: s.Active == nil || *s.Active,
		Vendor:   s.Vendor,
		Model:    s.Model,
	}
	if s.Password != "" {
		st.PasswordHash = security.HashSecretSHA256(s.Password)
	}
	return st
}

func (u userFixture) user() models.User {
	return models.User{
		IDTag:    u.IDTag,
		Name:     u.Name,
		Email:    u.Email,
		IsActive: u.Active == nil || *u.Active,
	}
}
