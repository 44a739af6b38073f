package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qnetctl/qnetctl/internal/eventbus"
	"github.com/qnetctl/qnetctl/internal/protocol"
	"github.com/qnetctl/qnetctl/internal/testutil/testlog"
)

// fakeSession wires the engine to a bare bus; onSend plays the device.
type fakeSession struct {
	bus    *eventbus.Bus
	mu     sync.Mutex
	sent   []string
	onSend func(line string)
}

func newFakeSession() *fakeSession {
	return &fakeSession{bus: eventbus.New()}
}

func (s *fakeSession) SendRaw(_ context.Context, line string) error {
	s.mu.Lock()
	s.sent = append(s.sent, line)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		go hook(line)
	}
	return nil
}

func (s *fakeSession) Subscribe(topic eventbus.Topic, cb eventbus.Callback) eventbus.Token {
	return s.bus.Subscribe(topic, cb)
}

func (s *fakeSession) Unsubscribe(token eventbus.Token) bool {
	return s.bus.Unsubscribe(token)
}

func (s *fakeSession) lastSent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1]
}

func testExecConfig() ExecConfig {
	return ExecConfig{
		NoResponseGrace: 50 * time.Millisecond,
		AggregateSettle: 30 * time.Millisecond,
	}
}

func TestSchemaTemplateParsing(t *testing.T) {
	testlog.Start(t)
	s, err := NewSchema("SYSTEM,{action},{value},{parameters...}", nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.CommandName() != "SYSTEM" {
		t.Fatalf("command name %q", s.CommandName())
	}
	fields := s.Fields()
	if len(fields) != 3 {
		t.Fatalf("fields %v", fields)
	}
	if fields[0].Name != "action" || fields[1].Name != "value" || fields[2].Name != "parameters" {
		t.Fatalf("field order %v", fields)
	}
	if fields[0].Variadic || fields[1].Variadic || !fields[2].Variadic {
		t.Fatalf("variadic flags %v", fields)
	}
}

func TestSchemaTemplateRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, template := range []string{",{a}", "NAME,{a},b"} {
		if _, err := NewSchema(template, nil); !errors.Is(err, ErrBadTemplate) {
			t.Fatalf("template %q: err=%v", template, err)
		}
	}
}

func TestAreaCommandFormatting(t *testing.T) {
	testlog.Start(t)
	if got := AreaGetZoneLevel(25).Formatted(); got != "?AREA,25,1" {
		t.Fatalf("get formatted %q", got)
	}
	if got := AreaSetZoneLevel(25, 50.0).Formatted(); got != "#AREA,25,1,50.0" {
		t.Fatalf("set formatted %q", got)
	}
	if got := AreaSetScene(7, 3).Formatted(); got != "#AREA,7,6,3" {
		t.Fatalf("scene formatted %q", got)
	}
}

func TestFamilyFormatting(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		cmd  *Command
		want string
	}{
		{OutputGetZoneLevel(12), "?OUTPUT,12,1"},
		{OutputSetZoneLevel(12, 75.5), "#OUTPUT,12,1,75.5"},
		{OutputSetPulseTime(12, 4), "#OUTPUT,12,5,4"},
		{ShadeGroupSetCurrentPreset(9, 2), "#SHADEGRP,9,6,2"},
		{SystemGetOSRev(), "?SYSTEM,8"},
		{SystemSetLatLong(30.5, -97.75), "#SYSTEM,4,30.5,-97.75"},
		{SystemSetLoadShed(true), "#SYSTEM,11,1"},
	}
	for _, tc := range cases {
		if got := tc.cmd.Formatted(); got != tc.want {
			t.Fatalf("formatted %q, want %q", got, tc.want)
		}
	}
}

func TestActionValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := OutputActionFromInt(99); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("output err=%v", err)
	}
	if _, err := AreaActionFromInt(5); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("area err=%v", err)
	}
	if _, err := SystemActionFromInt(3); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("system err=%v", err)
	}
	if _, err := NewOutput(1, OutputAction(42)); err == nil {
		t.Fatalf("constructor accepted bad action")
	}
}

func matchTestCommand(t *testing.T) *Command {
	t.Helper()
	schema := MustSchema("TEST,{action},{p1},{p2}", []Definition{GetSet(1, nil)})
	cmd, err := New(schema, 1, map[string]any{
		"action": "STATUS",
		"p1":     "1",
		"p2":     "2",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return cmd
}

func TestResponseMatching(t *testing.T) {
	testlog.Start(t)
	cmd := matchTestCommand(t)

	matched, unmatched := cmd.matchesResponse([]any{"STATUS", "1", "2", "extra"})
	if !matched {
		t.Fatalf("expected match")
	}
	if len(unmatched) != 1 || unmatched[0] != "extra" {
		t.Fatalf("unmatched %v", unmatched)
	}

	if matched, _ := cmd.matchesResponse([]any{"INFO", "1", "2"}); matched {
		t.Fatalf("wrong action matched")
	}
	if matched, _ := cmd.matchesResponse([]any{"STATUS", "3", "2"}); matched {
		t.Fatalf("wrong field matched")
	}
}

func TestResponseMatchingNumericCoercion(t *testing.T) {
	testlog.Start(t)
	cmd := mustOutput(25, OutputZoneLevel)
	matched, unmatched := cmd.matchesResponse([]any{int64(25), int64(1), 75.5})
	if !matched {
		t.Fatalf("numeric event did not match")
	}
	if len(unmatched) != 1 || unmatched[0] != 75.5 {
		t.Fatalf("unmatched %v", unmatched)
	}
}

func TestVariadicFieldCapturesTail(t *testing.T) {
	testlog.Start(t)
	schema := MustSchema("TEST,{action},{params...}", []Definition{GetSet(1, nil)})
	cmd, err := New(schema, 1, map[string]any{"action": "STATUS"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	matched, unmatched := cmd.matchesResponse([]any{"STATUS", "a", "b", "c"})
	if !matched {
		t.Fatalf("expected match")
	}
	if len(unmatched) != 3 || unmatched[0] != "a" || unmatched[2] != "c" {
		t.Fatalf("unmatched %v", unmatched)
	}
}

func TestExecuteResolvesMatchingResponse(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	sess.onSend = func(string) {
		// A reply for another output first; it must be ignored.
		sess.bus.Emit(eventbus.Device("OUTPUT"), []any{int64(30), int64(1), 20.0})
		sess.bus.Emit(eventbus.Device("OUTPUT"), []any{int64(25), int64(1), 75.5})
	}

	got, err := OutputGetZoneLevel(25).Execute(context.Background(), sess, testExecConfig(), time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != 75.5 {
		t.Fatalf("result %v (%T)", got, got)
	}
	if sess.lastSent() != "?OUTPUT,25,1" {
		t.Fatalf("sent %q", sess.lastSent())
	}
}

func TestExecuteTimesOutAfterConfiguredTimeout(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	timeout := 150 * time.Millisecond

	start := time.Now()
	_, err := OutputGetZoneLevel(25).Execute(context.Background(), sess, testExecConfig(), timeout)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err=%v", err)
	}
	if elapsed < timeout {
		t.Fatalf("timed out early after %v", elapsed)
	}
	if elapsed > timeout+time.Second {
		t.Fatalf("timed out late after %v", elapsed)
	}
}

func TestExecuteErrorEventFailsCommand(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	sess.onSend = func(string) {
		sess.bus.Emit(eventbus.Device("ERROR"), []any{int64(3)})
	}

	cmd := OutputGetZoneLevel(25)
	_, err := cmd.Execute(context.Background(), sess, testExecConfig(), time.Second)

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err=%v", err)
	}
	if cmdErr.Code != 3 {
		t.Fatalf("code=%d", cmdErr.Code)
	}
	wantFragment := "?OUTPUT,25,1"
	if got := cmdErr.Error(); !strings.Contains(got, wantFragment) {
		t.Fatalf("message %q missing %q", got, wantFragment)
	}
	if !strings.Contains(cmdErr.Error(), "Invalid action number") {
		t.Fatalf("message %q missing code text", cmdErr.Error())
	}
}

func TestExecuteErrorEventUnparsableCodeDefaultsZero(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	sess.onSend = func(string) {
		sess.bus.Emit(eventbus.Device("ERROR"), []any{"garbled"})
	}

	_, err := OutputGetZoneLevel(25).Execute(context.Background(), sess, testExecConfig(), time.Second)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err=%v", err)
	}
	if cmdErr.Code != 0 {
		t.Fatalf("code=%d", cmdErr.Code)
	}
}

func TestExecuteNoResponseResolvesEmptyAfterGrace(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	cfg := testExecConfig()

	start := time.Now()
	got, err := OutputStartRaising(25).Execute(context.Background(), sess, cfg, 30*time.Second)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != nil {
		t.Fatalf("result %v", got)
	}
	if elapsed < cfg.NoResponseGrace {
		t.Fatalf("resolved before grace, %v", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Fatalf("grace wait used caller timeout, %v", elapsed)
	}
}

func TestExecuteAreaAggregate(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	sess.onSend = func(string) {
		sess.bus.Emit(eventbus.Device("OUTPUT"), []any{int64(3), int64(1), 50.0})
		sess.bus.Emit(eventbus.Device("OUTPUT"), []any{int64(4), int64(1), 100.0})
	}

	got, err := AreaGetZoneLevel(5).Execute(context.Background(), sess, testExecConfig(), 2*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	levels, ok := got.(AreaLevels)
	if !ok {
		t.Fatalf("result %T", got)
	}
	if len(levels.Outputs) != 2 {
		t.Fatalf("outputs %v", levels.Outputs)
	}
	if levels.AverageLevel != 75.0 {
		t.Fatalf("average %v", levels.AverageLevel)
	}
	if sess.lastSent() != "?AREA,5,1" {
		t.Fatalf("sent %q", sess.lastSent())
	}
}

func TestExecuteAreaAggregateEmptyResolvesBeforeTimeout(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()

	start := time.Now()
	got, err := AreaGetZoneLevel(9).Execute(context.Background(), sess, testExecConfig(), 5*time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	levels, ok := got.(AreaLevels)
	if !ok {
		t.Fatalf("result %T", got)
	}
	if len(levels.Outputs) != 0 || levels.AverageLevel != 0 {
		t.Fatalf("levels %v", levels)
	}
	// A silent area settles after a bounded number of empty polls, well
	// under the command timeout.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("took %s to settle empty", elapsed)
	}
}

func TestProcessorFailureDegradesToRawPayload(t *testing.T) {
	testlog.Start(t)
	schema := MustSchema("TEST,{iid},{action}", []Definition{
		GetSet(1, func(any) (any, error) { return nil, errors.New("boom") }),
	})
	cmd, err := New(schema, 1, map[string]any{"iid": 2, "action": 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	sess := newFakeSession()
	sess.onSend = func(string) {
		sess.bus.Emit(eventbus.Device("TEST"), []any{int64(2), int64(1), "raw-tail"})
	}

	got, execErr := cmd.Execute(context.Background(), sess, testExecConfig(), time.Second)
	if execErr != nil {
		t.Fatalf("execute: %v", execErr)
	}
	if got != "raw-tail" {
		t.Fatalf("result %v", got)
	}
}

func TestSystemOSRevResolvesFromPlainLine(t *testing.T) {
	testlog.Start(t)
	sess := newFakeSession()
	sess.onSend = func(string) {
		sess.bus.Emit(protocol.TopicNonResponse, "GNET 16.1.14.53")
	}

	got, err := SystemGetOSRev().Execute(context.Background(), sess, testExecConfig(), time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "GNET 16.1.14.53" {
		t.Fatalf("result %v", got)
	}
}
