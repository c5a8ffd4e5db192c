package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godispense/pkg/actuator"
	"github.com/itohio/godispense/pkg/diag"
	"github.com/itohio/godispense/pkg/frame"
	"github.com/itohio/godispense/pkg/link"
)

func init() {
	diag.SetLogger(nil)
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// twoSpikes is a profile with an edge echo at raw 68 and a liquid echo at
// raw 148.
func twoSpikes() [frame.ProfileLen]int {
	var p [frame.ProfileLen]int
	p[68] = 1500
	p[148] = 1200
	return p
}

// edgeExtended is a profile whose interference echo at raw 90 is stronger
// than the edge echo at raw 60, so the edge cluster is extended over it.
func edgeExtended() [frame.ProfileLen]int {
	var p [frame.ProfileLen]int
	p[60] = 1500
	p[90] = 2000
	p[150] = 1250
	return p
}

type harness struct {
	t   *testing.T
	m   *Machine
	now time.Time
	out []Effect
}

func newHarness(t *testing.T, cfg Config) *harness {
	return &harness{t: t, m: New(cfg, t0), now: t0}
}

// feed decodes one frame and runs one step, returning the step's effects.
func (h *harness) feed(primary, secondary int, profile [frame.ProfileLen]int) []Effect {
	h.now = h.now.Add(50 * time.Millisecond)
	f := frame.SensorFrame{Primary: primary, Secondary: secondary, Profile: profile, Valid: true}
	h.m.Feed(&f, h.now)
	return h.step()
}

func (h *harness) step() []Effect {
	h.out = h.m.Tick(h.now, h.out[:0])
	return h.out
}

func (h *harness) toVerify() {
	h.t.Helper()
	h.toVerifyWith(twoSpikes())
}

// toVerifyWith confirms a container and configures from profile.
func (h *harness) toVerifyWith(profile [frame.ProfileLen]int) []Effect {
	h.t.Helper()
	for i := 0; i < DetectConfirm; i++ {
		h.feed(100, 0, profile)
	}
	require.Equal(h.t, StateConfigure, h.m.State())
	effects := h.step()
	require.Equal(h.t, StateVerify, h.m.State())
	return effects
}

func (h *harness) toMeasure() {
	h.t.Helper()
	h.toMeasureWith(twoSpikes())
}

func (h *harness) toMeasureWith(profile [frame.ProfileLen]int) {
	h.t.Helper()
	h.toVerifyWith(profile)
	for i := 0; i < VerifyConfirm; i++ {
		h.feed(500, 0, profile)
	}
	require.Equal(h.t, StateMeasure, h.m.State())
}

func sends(effects []Effect) []string {
	var out []string
	for _, e := range effects {
		out = append(out, e.String())
	}
	return out
}

func TestDetect_Debounce(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	for i := 0; i < DetectConfirm-1; i++ {
		assert.Empty(t, h.feed(100, 0, twoSpikes()))
	}
	assert.Equal(t, DetectConfirm-1, h.m.Context().Confirm)

	// 14*100 + 2350 over 15 samples is exactly 250.
	assert.Empty(t, h.feed(2350, 0, twoSpikes()))
	assert.Equal(t, 250, h.m.Filtered())
	assert.Equal(t, StateDetect, h.m.State())
	assert.Equal(t, 0, h.m.Context().Confirm)

	fresh := newHarness(t, DefaultConfig())
	for i := 0; i < DetectConfirm-1; i++ {
		fresh.feed(100, 0, twoSpikes())
		require.Equal(t, StateDetect, fresh.m.State())
	}
	effects := fresh.feed(100, 0, twoSpikes())
	assert.Equal(t, StateConfigure, fresh.m.State())
	assert.Equal(t, []string{"send AT+STOP (200ms)", "flush"}, sends(effects))
}

func TestDetect_ConsumesFrame(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.feed(100, 0, twoSpikes())
	assert.Equal(t, 1, h.m.Context().Confirm)

	// No new frame, no count.
	h.step()
	h.step()
	assert.Equal(t, 1, h.m.Context().Confirm)
}

func TestConfigure_Container(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < DetectConfirm; i++ {
		h.feed(100, 0, twoSpikes())
	}

	effects := h.step()
	assert.Equal(t, StateVerify, h.m.State())
	assert.Equal(t, []string{
		"send AT+S3=73 (500ms)",
		"send AT+S4=144 (500ms)",
		"send AT+T2=345 (500ms)",
		"send AT+T3=300 (500ms)",
		"send AT+REBOOT (500ms)",
		"flush",
		"armed on",
	}, sends(effects))

	p := h.m.Context().Params
	assert.Equal(t, 126, p.EdgeDistance)
	assert.Equal(t, 139, p.AlarmCheckDistance)
	assert.Equal(t, 141, p.StopDistance)
	assert.True(t, p.RequireStrongEcho)
	assert.Equal(t, 3, h.m.Window())
	assert.Equal(t, 0, h.m.Samples())
	assert.Equal(t, 66, h.m.Result().EdgePosition)
}

func TestConfigure_EdgeExtended(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	effects := h.toVerifyWith(edgeExtended())

	assert.Equal(t, []string{
		"send AT+S3=95 (500ms)",
		"send AT+S4=146 (500ms)",
		"send AT+T2=460 (500ms)",
		"send AT+T3=300 (500ms)",
		"send AT+REBOOT (500ms)",
		"flush",
		"armed on",
	}, sends(effects))

	require.True(t, h.m.Result().EdgeExtended)
	p := h.m.Context().Params
	assert.Equal(t, 110, p.EdgeDistance)
	assert.Equal(t, 181, p.AlarmCheckDistance)
	assert.Equal(t, 130, p.StopDistance, "edge distance + 20")
	assert.False(t, p.RequireStrongEcho)
}

func TestConfigure_NoContainer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < DetectConfirm; i++ {
		h.feed(100, 0, [frame.ProfileLen]int{})
	}

	effects := h.step()
	assert.Equal(t, StateWait, h.m.State())
	assert.Equal(t, []string{"alert on", "send AT+REBOOT (500ms)", "flush"}, sends(effects))
	assert.Equal(t, 0, h.m.Context().Params.StopDistance)
	assert.Equal(t, 16, h.m.Window())
}

func TestVerify_FailureRaisesNearThreshold(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toVerify()

	effects := h.feed(100, 400, twoSpikes())
	assert.Equal(t, StateVerify, h.m.State())
	assert.Equal(t, 450, h.m.Context().Params.NearThreshold)
	assert.Equal(t, []string{
		"send AT+STOP (200ms)",
		"flush",
		"send AT+T2=450 (500ms)",
		"flush",
		"send AT+REBOOT (150ms)",
		"flush",
	}, sends(effects))

	h.feed(139, 10, twoSpikes())
	assert.Equal(t, 470, h.m.Context().Params.NearThreshold)
	assert.Equal(t, 0, h.m.Context().Verify)
}

func TestVerify_SuccessStartsPump(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toVerify()

	for i := 0; i < VerifyConfirm-1; i++ {
		assert.Empty(t, h.feed(140, 0, twoSpikes()))
	}
	assert.Equal(t, VerifyConfirm-1, h.m.Context().Verify)

	effects := h.feed(140, 0, twoSpikes())
	assert.Equal(t, StateMeasure, h.m.State())
	assert.Equal(t, []Effect{{Kind: EffectPump, On: true}}, effects)
	assert.Equal(t, h.now, h.m.Context().MeasureEntry)
	assert.Equal(t, 0, h.m.Samples())
}

func TestMeasure_GraceAndConfirm(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toMeasure()
	entry := h.m.Context().MeasureEntry

	// Strong echo threshold is 345/3 = 115, stop distance 141.
	for i := 0; i < 3; i++ {
		assert.Empty(t, h.feed(100, 200, twoSpikes()))
	}
	assert.Equal(t, 0, h.m.Context().Confirm, "grace period")

	h.now = entry.Add(MeasureGrace)
	assert.Empty(t, h.feed(100, 200, twoSpikes()))
	assert.Equal(t, 1, h.m.Context().Confirm)

	// Unchanged reading does not count twice.
	assert.Empty(t, h.step())
	assert.Equal(t, 1, h.m.Context().Confirm)

	effects := h.feed(100, 200, twoSpikes())
	assert.Equal(t, StateWait, h.m.State())
	assert.Equal(t, []string{
		"pump off",
		"armed off",
		"alert on",
		"send AT+STOP (100ms)",
		"flush",
		"send AT+T3=250 (200ms)",
		"send AT+REBOOT (500ms)",
		"flush",
	}, sends(effects))
	assert.Equal(t, 16, h.m.Window())
}

func TestMeasure_WeakEchoResets(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toMeasure()
	h.now = h.m.Context().MeasureEntry.Add(MeasureGrace)

	for i := 0; i < 3; i++ {
		h.feed(100, 200, twoSpikes())
	}
	require.Equal(t, 1, h.m.Context().Confirm)

	h.feed(100, 100, twoSpikes())
	assert.Equal(t, 0, h.m.Context().Confirm)
	assert.Equal(t, StateMeasure, h.m.State())
}

func TestMeasure_EdgeExtendedStopsOnWeakEcho(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toMeasureWith(edgeExtended())
	h.now = h.m.Context().MeasureEntry.Add(MeasureGrace)

	// Stop distance is 130 and no strong echo is required.
	for i := 0; i < 3; i++ {
		assert.Empty(t, h.feed(120, 0, edgeExtended()))
	}
	assert.Equal(t, 1, h.m.Context().Confirm)

	effects := h.feed(120, 0, edgeExtended())
	assert.Equal(t, StateWait, h.m.State())
	require.NotEmpty(t, effects)
	assert.Equal(t, "pump off", effects[0].String())
}

func TestMeasure_NeedsFullWindow(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toMeasure()
	h.now = h.m.Context().MeasureEntry.Add(MeasureGrace)

	h.feed(100, 200, twoSpikes())
	h.feed(100, 200, twoSpikes())
	assert.Equal(t, 0, h.m.Context().Confirm)
	h.feed(100, 200, twoSpikes())
	assert.Equal(t, 1, h.m.Context().Confirm)
}

func TestWait_ReleaseRestoresDefaults(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.toMeasure()
	h.now = h.m.Context().MeasureEntry.Add(MeasureGrace)
	for i := 0; i < 4; i++ {
		h.feed(100, 200, twoSpikes())
	}
	require.Equal(t, StateWait, h.m.State())

	assert.Empty(t, h.feed(400, 0, twoSpikes()))
	assert.Equal(t, 1, h.m.Context().Confirm)
	assert.Empty(t, h.feed(100, 0, twoSpikes()))
	assert.Equal(t, 0, h.m.Context().Confirm, "(400+100)/2 is not above 295")

	h.feed(1000, 0, twoSpikes())
	h.feed(1000, 0, twoSpikes())
	effects := h.feed(1000, 0, twoSpikes())
	assert.Equal(t, StateDetect, h.m.State())
	assert.Equal(t, []string{
		"send AT+STOP (100ms)",
		"flush",
		"send AT+DEBUG=1 (200ms)",
		"send AT+S3=60 (200ms)",
		"send AT+T2=400 (200ms)",
		"send AT+S4=152 (200ms)",
		"send AT+T3=250 (200ms)",
		"alert off",
		"armed off",
		"pump off",
		"send AT+REBOOT (500ms)",
		"flush",
	}, sends(effects))

	ctx := h.m.Context()
	assert.Equal(t, DefaultParams(), ctx.Params)
	assert.False(t, ctx.Params.RequireStrongEcho)
	assert.Equal(t, 0, ctx.Params.StopDistance)
	assert.Equal(t, 0, h.m.Samples())
}

func TestWatchdog_FiresOncePerBreach(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogMode = WatchdogRecover
	m := New(cfg, t0)

	var out []Effect
	out = m.Tick(t0.Add(10000*time.Millisecond), out[:0])
	assert.Empty(t, out)

	fired := 0
	for at := 10001 * time.Millisecond; at <= 20001*time.Millisecond; at += 5 * time.Millisecond {
		out = m.Tick(t0.Add(at), out[:0])
		if len(out) > 0 {
			fired++
			assert.Equal(t, link.Stop(), out[0].Command)
			assert.Equal(t, EffectFlush, out[len(out)-1].Kind)
		}
	}
	assert.Equal(t, 1, fired)
	assert.Equal(t, StateDetect, m.State())

	// The breach continues past the re-armed deadline.
	out = m.Tick(t0.Add(20006*time.Millisecond), out[:0])
	assert.NotEmpty(t, out)
}

func TestWatchdog_RecoverStopsPump(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WatchdogMode = WatchdogRecover
	h := newHarness(t, cfg)
	h.toMeasure()

	h.now = h.now.Add(10001 * time.Millisecond)
	effects := h.step()
	assert.Equal(t, StateDetect, h.m.State())
	assert.Contains(t, sends(effects), "pump off")
	assert.Contains(t, sends(effects), "armed off")
	assert.Equal(t, EffectFlush, effects[len(effects)-1].Kind)
}

func TestWatchdog_ResetMode(t *testing.T) {
	m := New(DefaultConfig(), t0)
	out := m.Watchdog(t0.Add(10001*time.Millisecond), nil)
	assert.Equal(t, []Effect{{Kind: EffectReset}}, out)

	out = m.Watchdog(t0.Add(10002*time.Millisecond), out[:0])
	assert.Empty(t, out)
}

func TestWatchdog_FeedRearms(t *testing.T) {
	m := New(DefaultConfig(), t0)
	f := frame.SensorFrame{Primary: 500, Valid: true}
	m.Feed(&f, t0.Add(9*time.Second))

	out := m.Watchdog(t0.Add(15*time.Second), nil)
	assert.Empty(t, out)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "MEASURE", StateMeasure.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestEffect_String(t *testing.T) {
	assert.Equal(t, "alert off", indicator(actuator.IndicatorAlert, false).String())
	assert.Equal(t, "pump on", pump(true).String())
	assert.Equal(t, "reset", Effect{Kind: EffectReset}.String())
}
