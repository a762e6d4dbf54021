// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package approval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned when a named secret is not configured.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore supplies out-of-band secrets. The returned slice belongs to
// the caller, who should wipe it after use.
type SecretStore interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// sealedStore keeps secrets encrypted in memguard enclaves between uses.
type sealedStore struct {
	mu       sync.Mutex
	enclaves map[string]*memguard.Enclave
}

func (s *sealedStore) seal(name string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enclaves == nil {
		s.enclaves = make(map[string]*memguard.Enclave)
	}
	// NewEnclave wipes value.
	s.enclaves[name] = memguard.NewEnclave(value)
}

func (s *sealedStore) open(name string) ([]byte, bool, error) {
	s.mu.Lock()
	enclave, ok := s.enclaves[name]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	buf, err := enclave.Open()
	if err != nil {
		return nil, true, fmt.Errorf("open secret %s: %w", name, err)
	}
	defer buf.Destroy()
	return append([]byte(nil), buf.Bytes()...), true, nil
}

// EnvSecretStore reads secrets from environment variables on first use and
// keeps them sealed afterwards.
type EnvSecretStore struct {
	sealed sealedStore
	getenv func(string) string
}

// NewEnvSecretStore creates a store backed by os.Getenv.
func NewEnvSecretStore() *EnvSecretStore {
	return &EnvSecretStore{getenv: os.Getenv}
}

func (s *EnvSecretStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok, err := s.sealed.open(name); ok || err != nil {
		return v, err
	}
	raw := s.getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	s.sealed.seal(name, []byte(raw))
	v, _, err := s.sealed.open(name)
	return v, err
}

// StaticSecretStore holds secrets supplied at construction.
type StaticSecretStore struct {
	sealed sealedStore
}

// NewStaticSecretStore seals every value of secrets.
func NewStaticSecretStore(secrets map[string]string) *StaticSecretStore {
	s := &StaticSecretStore{}
	for name, value := range secrets {
		s.sealed.seal(name, []byte(value))
	}
	return s
}

func (s *StaticSecretStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok, err := s.sealed.open(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return v, nil
}

var (
	_ SecretStore = (*EnvSecretStore)(nil)
	_ SecretStore = (*StaticSecretStore)(nil)
)
