package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"aigateway/internal/models"
	"aigateway/internal/registry"
	"aigateway/internal/storage"
)

// SeedFile lists providers with their credentials and model rates.
type SeedFile struct {
	Providers []SeedProvider `yaml:"providers"`
}

// SeedProvider is one provider entry. Name must be a known vendor.
type SeedProvider struct {
	Name        string            `yaml:"name"`
	DisplayName string            `yaml:"displayName"`
	BaseURL     string            `yaml:"baseUrl"`
	Region      string            `yaml:"region"`
	Disabled    bool              `yaml:"disabled"`
	Credentials []SeedCredential  `yaml:"credentials"`
	Rates       []SeedRate        `yaml:"rates"`
	Config      map[string]string `yaml:"config"`
}

// SeedCredential holds a plain secret; it is encrypted before it is stored.
// Either APIKey or AccessKey is set.
type SeedCredential struct {
	Name      string         `yaml:"name"`
	APIKey    string         `yaml:"apiKey"`
	AccessKey *SeedAccessKey `yaml:"accessKey"`
	Weight    int            `yaml:"weight"`
}

// SeedAccessKey is an AWS style key pair.
type SeedAccessKey struct {
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken"`
}

// SeedRate prices a model on the provider, in credits per token.
type SeedRate struct {
	Model       string          `yaml:"model"`
	Type        models.CallType `yaml:"type"`
	InputRate   string          `yaml:"inputRate"`
	OutputRate  string          `yaml:"outputRate"`
	Display     string          `yaml:"modelDisplay"`
	Description string          `yaml:"description"`
}

// Encrypter seals credential values.
type Encrypter interface {
	Encrypt(plain []byte) (string, error)
}

// Result counts what a seed run created.
type Result struct {
	Providers   int
	Credentials int
	Rates       int
	Skipped     int
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, secrets and rates before anything is written.
func (f *SeedFile) Validate() error {
	seen := make(map[string]bool)
	for i, p := range f.Providers {
		if _, ok := registry.ParseProviderVendor(p.Name); !ok {
			return fmt.Errorf("providers[%d]: unknown vendor %q", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate provider %q", i, p.Name)
		}
		seen[p.Name] = true
		for j, c := range p.Credentials {
			if c.Name == "" {
				return fmt.Errorf("providers[%d].credentials[%d]: name is required", i, j)
			}
			if (c.APIKey == "") == (c.AccessKey == nil) {
				return fmt.Errorf("providers[%d].credentials[%d]: exactly one of apiKey and accessKey is required", i, j)
			}
		}
		for j, r := range p.Rates {
			if r.Model == "" || !r.Type.Valid() {
				return fmt.Errorf("providers[%d].rates[%d]: model and a valid type are required", i, j)
			}
			if _, err := decimal.NewFromString(r.InputRate); err != nil {
				return fmt.Errorf("providers[%d].rates[%d]: inputRate: %w", i, j, err)
			}
			if _, err := decimal.NewFromString(r.OutputRate); err != nil {
				return fmt.Errorf("providers[%d].rates[%d]: outputRate: %w", i, j, err)
			}
		}
	}
	return nil
}

// Apply creates every provider of f that does not exist yet, with its
// credentials and rates. Existing providers are left untouched.
func Apply(ctx context.Context, store *storage.Store, enc Encrypter, f *SeedFile) (Result, error) {
	var res Result
	for _, sp := range f.Providers {
		_, err := store.Providers.GetByName(ctx, sp.Name)
		if err == nil {
			res.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrProviderNotFound) {
			return res, err
		}

		p := &models.Provider{
			Name:        sp.Name,
			DisplayName: sp.DisplayName,
			BaseURL:     sp.BaseURL,
			Region:      sp.Region,
			Enabled:     !sp.Disabled,
		}
		if p.DisplayName == "" {
			p.DisplayName = sp.Name
		}
		if len(sp.Config) > 0 {
			p.Config = make(models.JSONB, len(sp.Config))
			for k, v := range sp.Config {
				p.Config[k] = v
			}
		}
		if err := store.Providers.Create(ctx, p); err != nil {
			return res, fmt.Errorf("create provider %s: %w", sp.Name, err)
		}
		res.Providers++

		for _, sc := range sp.Credentials {
			c, err := sealCredential(enc, p, sc)
			if err != nil {
				return res, err
			}
			if err := store.Credentials.Create(ctx, c); err != nil {
				return res, fmt.Errorf("create credential %s/%s: %w", sp.Name, sc.Name, err)
			}
			res.Credentials++
		}

		for _, sr := range sp.Rates {
			rate := &models.ModelRate{
				ProviderID:   p.ID,
				Model:        sr.Model,
				Type:         sr.Type,
				InputRate:    decimal.RequireFromString(sr.InputRate),
				OutputRate:   decimal.RequireFromString(sr.OutputRate),
				ModelDisplay: sql.NullString{String: sr.Display, Valid: sr.Display != ""},
				Description:  sql.NullString{String: sr.Description, Valid: sr.Description != ""},
			}
			if err := store.ModelRates.Create(ctx, rate); err != nil {
				return res, fmt.Errorf("create rate %s/%s: %w", sp.Name, sr.Model, err)
			}
			res.Rates++
		}
	}
	return res, nil
}

func sealCredential(enc Encrypter, p *models.Provider, sc SeedCredential) (*models.Credential, error) {
	c := &models.Credential{
		ProviderID:     p.ID,
		Name:           sc.Name,
		CredentialType: models.CredentialTypeAPIKey,
		Active:         true,
		Weight:         sc.Weight,
	}
	plain := []byte(sc.APIKey)
	if sc.AccessKey != nil {
		c.CredentialType = models.CredentialTypeAccessKeyPair
		var err error
		if plain, err = json.Marshal(models.AccessKeyPair{
			AccessKeyID:     sc.AccessKey.AccessKeyID,
			SecretAccessKey: sc.AccessKey.SecretAccessKey,
			SessionToken:    sc.AccessKey.SessionToken,
		}); err != nil {
			return nil, err
		}
	}
	token, err := enc.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential %s/%s: %w", p.Name, sc.Name, err)
	}
	c.Value = token
	return c, nil
}
