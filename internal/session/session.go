// Package session reads saved authenticated browser states (cookies and
// per-origin local storage) written by the separate login flow.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var ErrNoSessions = errors.New("session: no saved session states")

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// ExpiresAt returns the zero time for session cookies.
func (c Cookie) ExpiresAt() time.Time {
	if c.Expires <= 0 {
		return time.Time{}
	}
	sec := int64(c.Expires)
	return time.Unix(sec, int64((c.Expires-float64(sec))*1e9))
}

type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// State is one account identity.
type State struct {
	Name    string   `json:"-"`
	Path    string   `json:"-"`
	Cookies []Cookie `json:"cookies"`
	Origins []Origin `json:"origins"`
}

type Provider interface {
	// PickForPurchase returns one state chosen at random to rotate the
	// presented identity.
	PickForPurchase(rng *rand.Rand) (*State, error)
	// AllForLookup returns every state in a stable order.
	AllForLookup() ([]*State, error)
}

func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", path, err)
	}
	st.Path = path
	st.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &st, nil
}

// FileProvider serves every *.json file in Dir.
type FileProvider struct {
	Dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{Dir: dir}
}

func (p *FileProvider) AllForLookup() ([]*State, error) {
	paths, err := filepath.Glob(filepath.Join(p.Dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var states []*State
	for _, path := range paths {
		st, err := Load(path)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if len(states) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSessions, p.Dir)
	}
	return states, nil
}

func (p *FileProvider) PickForPurchase(rng *rand.Rand) (*State, error) {
	states, err := p.AllForLookup()
	if err != nil {
		return nil, err
	}
	return states[rng.Intn(len(states))], nil
}

// Static serves a fixed list of states.
type Static []*State

func (s Static) AllForLookup() ([]*State, error) {
	if len(s) == 0 {
		return nil, ErrNoSessions
	}
	return s, nil
}

func (s Static) PickForPurchase(rng *rand.Rand) (*State, error) {
	if len(s) == 0 {
		return nil, ErrNoSessions
	}
	return s[rng.Intn(len(s))], nil
}

type Health struct {
	Name    string
	Cookies int
	Expired []string
	// Earliest expiry among persistent cookies; zero when none.
	NextExpiry time.Time
}

func (h Health) OK() bool { return h.Cookies > 0 && len(h.Expired) == 0 }

// Check reports expired cookies for each state as of now.
func Check(states []*State, now time.Time) []Health {
	out := make([]Health, 0, len(states))
	for _, st := range states {
		h := Health{Name: st.Name, Cookies: len(st.Cookies)}
		for _, c := range st.Cookies {
			exp := c.ExpiresAt()
			if exp.IsZero() {
				continue
			}
			if exp.Before(now) {
				h.Expired = append(h.Expired, c.Name)
				continue
			}
			if h.NextExpiry.IsZero() || exp.Before(h.NextExpiry) {
				h.NextExpiry = exp
			}
		}
		out = append(out, h)
	}
	return out
}
