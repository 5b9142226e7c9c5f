package registry_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/wire"
	"github.com/zdex/evcpms/internal/registry"
	"github.com/zdex/evcpms/internal/test/fakes"
)

func TestRegisterSupersedes(t *testing.T) {
	t.Parallel()

	r := registry.New()
	first := &fakes.Transport{}
	second := &fakes.Transport{}

	c1 := r.Register("CP-1", first, wire.V16)
	r.BindStation("CP-1", "st-1")
	c2 := r.Register("CP-1", second, wire.V201)

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())

	info, ok := r.FindByIdentity("CP-1")
	require.True(t, ok)
	assert.Equal(t, wire.V201, info.Version)
	assert.Equal(t, "st-1", info.StationID)

	// The superseded read loop must not evict its replacement.
	assert.False(t, r.Unregister(c1))
	_, ok = r.FindByIdentity("CP-1")
	assert.True(t, ok)

	assert.True(t, r.Unregister(c2))
	_, ok = r.FindByIdentity("CP-1")
	assert.False(t, ok)
}

func TestPointUpdates(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.Register("CP-1", &fakes.Transport{}, wire.V16)

	r.UpdateConnectorStatus("CP-1", 1, "Available")
	r.UpdateConnectorStatus("CP-1", 2, "Charging")
	r.UpdateConnectorStatus("CP-1", 1, "Preparing")
	r.UpdateBootInfo("CP-1", models.BootInfo{Vendor: "ABB", Model: "Terra"})
	r.BindStation("CP-1", "st-1")
	r.UpdateHeartbeat("CP-1")
	r.UpdateLastMessageTime("CP-1")

	// Updates for unknown identities are no-ops.
	r.UpdateConnectorStatus("CP-X", 1, "Faulted")
	r.UpdateHeartbeat("CP-X")

	info, ok := r.FindByStationID("st-1")
	require.True(t, ok)
	assert.Equal(t, map[int]string{1: "Preparing", 2: "Charging"}, info.Connectors)
	require.NotNil(t, info.Boot)
	assert.Equal(t, "ABB", info.Boot.Vendor)

	// Snapshots are copies.
	info.Connectors[1] = "Mutated"
	again, _ := r.FindByIdentity("CP-1")
	assert.Equal(t, "Preparing", again.Connectors[1])

	_, ok = r.FindByStationID("st-unknown")
	assert.False(t, ok)
}

func TestListAllAndRemove(t *testing.T) {
	t.Parallel()

	r := registry.New()
	r.Register("CP-B", &fakes.Transport{}, wire.V16)
	r.Register("CP-A", &fakes.Transport{}, wire.V201)

	all := r.ListAll()
	require.Len(t, all, 2)
	assert.Equal(t, "CP-A", all[0].Identity)
	assert.Equal(t, "CP-B", all[1].Identity)

	r.Remove("CP-A")
	assert.Len(t, r.ListAll(), 1)
}

func TestSendCommand(t *testing.T) {
	t.Parallel()

	r := registry.New()

	id, ok := r.SendCommand("CP-1", "Reset", map[string]string{"type": "Soft"})
	assert.False(t, ok)
	assert.Empty(t, id)

	tr := &fakes.Transport{}
	r.Register("CP-1", tr, wire.V16)

	id, ok = r.SendCommand("CP-1", "Reset", map[string]string{"type": "Soft"})
	require.True(t, ok)
	require.NotEmpty(t, id)

	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(tr.Last(), &frame))
	require.Len(t, frame, 4)
	assert.JSONEq(t, `2`, string(frame[0]))
	assert.JSONEq(t, `"`+id+`"`, string(frame[1]))
	assert.JSONEq(t, `"Reset"`, string(frame[2]))
	assert.JSONEq(t, `{"type":"Soft"}`, string(frame[3]))

	tr.FailOut = true
	_, ok = r.SendCommand("CP-1", "Reset", nil)
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	r := registry.New()
	quiet := &fakes.Transport{}
	chatty := &fakes.Transport{}
	r.Register("CP-quiet", quiet, wire.V16)
	chattyConn := r.Register("CP-chatty", chatty, wire.V16)

	// Fresh connections count as alive: the first sweep only probes.
	assert.Empty(t, r.Sweep())
	assert.Equal(t, 1, quiet.Pings())
	assert.Equal(t, 1, chatty.Pings())

	chattyConn.MarkAlive()

	closed := r.Sweep()
	assert.Equal(t, []string{"CP-quiet"}, closed)
	assert.True(t, quiet.Closed())
	assert.False(t, chatty.Closed())
	assert.Equal(t, 2, chatty.Pings())
}
