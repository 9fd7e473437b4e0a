package session

import (
	"voxscribe/internal/catalog"
	"voxscribe/internal/credentials"
)

// Settings is an immutable snapshot of the user configuration. Changes
// produce a new value.
type Settings struct {
	SelectedProvider catalog.Provider
	apiKeys          map[catalog.Provider]string
}

func newSettings(selected catalog.Provider, keys map[catalog.Provider]string) Settings {
	copied := make(map[catalog.Provider]string, len(keys))
	for p, k := range keys {
		copied[p] = k
	}
	return Settings{SelectedProvider: selected, apiKeys: copied}
}

func (s Settings) APIKey(p catalog.Provider) string {
	return s.apiKeys[p]
}

func (s Settings) HasAPIKey(p catalog.Provider) bool {
	return s.apiKeys[p] != ""
}

func (s Settings) withKey(p catalog.Provider, key string) Settings {
	next := newSettings(s.SelectedProvider, s.apiKeys)
	next.apiKeys[p] = key
	return next
}

func (s Settings) data() credentials.Data {
	keys := make(map[string]string, len(s.apiKeys))
	for p, k := range s.apiKeys {
		keys[string(p)] = k
	}
	return credentials.Data{SelectedProvider: string(s.SelectedProvider), APIKeys: keys}
}
