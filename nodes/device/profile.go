package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAuthTree/identity"
)

// AttrDeviceProfiles is the multi-valued identity attribute holding one JSON encoded
// Profile per bound device.
const AttrDeviceProfiles = "deviceProfiles"

var (
	ErrTooManyDevices = errors.New("device limit reached")
	ErrProfileCorrupt = errors.New("device profile is not valid json")
)

// Profile is one bound device.
type Profile struct {
	DeviceID           string    `json:"deviceId"`
	DeviceName         string    `json:"deviceName,omitempty"`
	KeyID              string    `json:"kid"`
	Key                JWK       `json:"jwk"`
	AuthenticationType string    `json:"authenticationType,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	LastAccessedAt     time.Time `json:"lastAccessedAt,omitzero"`
}

// Profiles reads and writes device profiles through an identity.AttributeStore.
type Profiles struct {
	store identity.AttributeStore
	now   func() time.Time
}

func NewProfiles(store identity.AttributeStore) *Profiles {
	return &Profiles{store: store, now: time.Now}
}

func decodeProfiles(values []string) ([]Profile, error) {
	out := make([]Profile, 0, len(values))
	for _, v := range values {
		var p Profile
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProfileCorrupt, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func encodeProfiles(ps []Profile) ([]string, error) {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		out = append(out, string(b))
	}
	return out, nil
}

// List returns every bound device of ref.
func (s *Profiles) List(ctx context.Context, ref identity.Ref) ([]Profile, error) {
	vals, err := s.store.Values(ctx, ref, AttrDeviceProfiles)
	if err != nil {
		return nil, err
	}
	return decodeProfiles(vals)
}

// Find returns the profile whose key id is kid.
func (s *Profiles) Find(ctx context.Context, ref identity.Ref, kid string) (Profile, bool, error) {
	ps, err := s.List(ctx, ref)
	if err != nil {
		return Profile{}, false, err
	}
	for _, p := range ps {
		if p.KeyID == kid {
			return p, true, nil
		}
	}
	return Profile{}, false, nil
}

// Bind stores p, replacing any profile with the same device id. A new device fails with
// ErrTooManyDevices when max devices are already bound; max <= 0 means unlimited.
func (s *Profiles) Bind(ctx context.Context, ref identity.Ref, p Profile, max int) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.store.Update(ctx, ref, AttrDeviceProfiles, func(cur []string) ([]string, error) {
		ps, err := decodeProfiles(cur)
		if err != nil {
			return nil, err
		}
		kept := ps[:0]
		for _, existing := range ps {
			if existing.DeviceID != p.DeviceID {
				kept = append(kept, existing)
			}
		}
		if max > 0 && len(kept) >= max {
			return nil, ErrTooManyDevices
		}
		return encodeProfiles(append(kept, p))
	})
	return err
}

// Touch records a successful signature by the device bound to kid.
func (s *Profiles) Touch(ctx context.Context, ref identity.Ref, kid string) error {
	_, err := s.store.Update(ctx, ref, AttrDeviceProfiles, func(cur []string) ([]string, error) {
		ps, err := decodeProfiles(cur)
		if err != nil {
			return nil, err
		}
		for i := range ps {
			if ps[i].KeyID == kid {
				ps[i].LastAccessedAt = s.now()
			}
		}
		return encodeProfiles(ps)
	})
	return err
}

// Remove unbinds deviceID.
func (s *Profiles) Remove(ctx context.Context, ref identity.Ref, deviceID string) error {
	_, err := s.store.Update(ctx, ref, AttrDeviceProfiles, func(cur []string) ([]string, error) {
		ps, err := decodeProfiles(cur)
		if err != nil {
			return nil, err
		}
		kept := ps[:0]
		for _, p := range ps {
			if p.DeviceID != deviceID {
				kept = append(kept, p)
			}
		}
		return encodeProfiles(kept)
	})
	return err
}
