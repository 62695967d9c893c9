package retry

import (
	"context"
	"strconv"

	"github.com/MrEthical07/goAuthTree/identity"
	"github.com/MrEthical07/goAuthTree/journey"
)

// AttrRetryCount is the multi-valued identity attribute holding durable counters, one
// "<instanceId>=<count>" value per retry-limit node. Instance ids carry the tree name, so
// nodes of different trees never share an entry.
const AttrRetryCount = "retryLimitNodeCount"

// Counter stores the attempt count of one retry-limit node, identified by its
// instance id (see journey.InstanceID).
//
// Record and Clear return the journey state the node should hand back, which is the
// input unchanged for strategies that do not keep the count in state.
type Counter interface {
	Current(ctx context.Context, instanceID string, st journey.State) (int, error)
	Record(ctx context.Context, instanceID string, st journey.State) (int, journey.State, error)
	Clear(ctx context.Context, instanceID string, st journey.State) (journey.State, error)
}

// EphemeralCounter keeps the count in shared state under "<instanceId>.retryCount". It is
// lost when the journey is abandoned.
type EphemeralCounter struct{}

// StateKey returns the shared state key used for instanceID.
func StateKey(instanceID string) string {
	return instanceID + ".retryCount"
}

func (EphemeralCounter) Current(_ context.Context, instanceID string, st journey.State) (int, error) {
	n, ok := st.Int(journey.Shared, StateKey(instanceID))
	if !ok || n < 0 {
		return 0, nil
	}
	return n, nil
}

func (c EphemeralCounter) Record(ctx context.Context, instanceID string, st journey.State) (int, journey.State, error) {
	cur, _ := c.Current(ctx, instanceID, st)
	shared := st.Copy(journey.Shared)
	shared[StateKey(instanceID)] = cur + 1
	return cur + 1, st.WithReplacement(journey.Shared, shared), nil
}

func (EphemeralCounter) Clear(_ context.Context, instanceID string, st journey.State) (journey.State, error) {
	if _, ok := st.Get(journey.Shared, StateKey(instanceID)); !ok {
		return st, nil
	}
	shared := st.Copy(journey.Shared)
	delete(shared, StateKey(instanceID))
	return st.WithReplacement(journey.Shared, shared), nil
}

// DurableCounter keeps the count on the identity record so it survives across journeys.
// When the journey has no realm or username yet it behaves as an EphemeralCounter.
type DurableCounter struct {
	Store identity.AttributeStore
}

func refOf(st journey.State) (identity.Ref, bool) {
	realm, _ := st.String(journey.Shared, journey.KeyRealm)
	user, _ := st.String(journey.Shared, journey.KeyUsername)
	ref := identity.Ref{Realm: realm, Username: user}
	return ref, ref.Valid()
}

func entryPrefix(instanceID string) string {
	return instanceID + "="
}

// parseCount reads the count stored for instanceID. A malformed entry counts as zero.
func parseCount(values []string, instanceID string) int {
	raw, ok := identity.Find(values, entryPrefix(instanceID))
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (c DurableCounter) Current(ctx context.Context, instanceID string, st journey.State) (int, error) {
	ref, ok := refOf(st)
	if !ok {
		return EphemeralCounter{}.Current(ctx, instanceID, st)
	}
	vals, err := c.Store.Values(ctx, ref, AttrRetryCount)
	if err != nil {
		return 0, err
	}
	return parseCount(vals, instanceID), nil
}

func (c DurableCounter) Record(ctx context.Context, instanceID string, st journey.State) (int, journey.State, error) {
	ref, ok := refOf(st)
	if !ok {
		return EphemeralCounter{}.Record(ctx, instanceID, st)
	}
	var count int
	_, err := c.Store.Update(ctx, ref, AttrRetryCount, func(cur []string) ([]string, error) {
		count = parseCount(cur, instanceID) + 1
		return identity.Replace(cur, entryPrefix(instanceID), entryPrefix(instanceID)+strconv.Itoa(count)), nil
	})
	if err != nil {
		return 0, st, err
	}
	return count, st, nil
}

func (c DurableCounter) Clear(ctx context.Context, instanceID string, st journey.State) (journey.State, error) {
	ref, ok := refOf(st)
	if !ok {
		return EphemeralCounter{}.Clear(ctx, instanceID, st)
	}
	_, err := c.Store.Update(ctx, ref, AttrRetryCount, func(cur []string) ([]string, error) {
		return identity.Replace(cur, entryPrefix(instanceID), ""), nil
	})
	return st, err
}
