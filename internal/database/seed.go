package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Users []CreateUserParams `yaml:"users"`
}

// LoadSeedUsers reads the bootstrap user list from a YAML file of the form
//
//	users:
//	  - name: Admin
//	    address: 192.168.0.126
//	    image: /images/image-admin.png
//	    bgColor: "#fff4ff"
//	    admin: true
func LoadSeedUsers(path string) ([]CreateUserParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Users))
	for i, u := range f.Users {
		if u.Name == "" || u.Address == "" {
			return nil, fmt.Errorf("seed user %d: name and address are required", i)
		}
		if _, ok := seen[u.Address]; ok {
			return nil, fmt.Errorf("seed user %d: duplicate address %q", i, u.Address)
		}
		seen[u.Address] = struct{}{}
	}

	return f.Users, nil
}

// SeedUsers creates every seed user whose address is not yet bound and
// returns how many were created.
func SeedUsers(ctx context.Context, repo Repository, users []CreateUserParams) (int, error) {
	created := 0
	for _, u := range users {
		_, err := repo.GetUserByAddress(ctx, u.Address)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}

		if _, err := repo.CreateUser(ctx, u); err != nil {
			return created, fmt.Errorf("seed %q: %w", u.Name, err)
		}
		created++
	}

	return created, nil
}
