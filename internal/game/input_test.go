package game

import (
	"errors"
	"testing"

	"emberfall/internal/config"
	"emberfall/internal/protocol"
)

func testLimits() config.Limits {
	return config.Limits{
		MaxMessagesPerSecond: 200,
		MaxInputRate:         120,
		MaxAttacksPerSecond:  10,
		InputSequenceWindow:  300,
		ViolationKickLimit:   50,
		MaxPositionError:     10,
	}
}

func inputCmd(seq uint32) Command {
	return Command{PlayerID: "p1", Kind: CmdInput, Input: protocol.Input{Seq: seq, Keys: protocol.KeyForward}}
}

func TestPushRequiresRegistration(t *testing.T) {
	p := NewPipeline(testLimits())
	if err := p.Push(inputCmd(1)); !errors.Is(err, protocol.ErrStateConflict) {
		t.Fatalf("err = %v, want state conflict", err)
	}
}

func TestSequenceMustIncrease(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	if err := p.Push(inputCmd(10)); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := p.Push(inputCmd(11)); err != nil {
		t.Fatalf("increasing push: %v", err)
	}
	if err := p.Push(inputCmd(11)); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("replay err = %v, want validation", err)
	}
	if err := p.Push(inputCmd(5)); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("stale err = %v, want validation", err)
	}
}

func TestSequenceJumpBeyondWindowRejected(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	if err := p.Push(inputCmd(1)); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if err := p.Push(inputCmd(1 + 301)); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("jump err = %v, want validation", err)
	}
	if err := p.Push(inputCmd(1 + 300)); err != nil {
		t.Fatalf("edge of window: %v", err)
	}
}

func TestInputRateLimit(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	limited := false
	for seq := uint32(1); seq <= 100; seq++ {
		err := p.Push(inputCmd(seq))
		if errors.Is(err, protocol.ErrRateLimited) {
			limited = true
			break
		}
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if !limited {
		t.Fatal("burst of 100 instant inputs should trip the limiter")
	}
}

func TestAttackRateLimit(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	limited := false
	for i := 0; i < 20; i++ {
		err := p.Push(Command{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 1}})
		if errors.Is(err, protocol.ErrRateLimited) {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("20 instant attacks should trip the limiter")
	}
}

func TestValidationRejectsBadPayloads(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	cases := []Command{
		{PlayerID: "p1", Kind: CmdInput, Input: protocol.Input{Seq: 1, AimX: 5, AimY: 5}},
		{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 0}},
		{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 7}},
		{PlayerID: "p1", Kind: CmdSetClass, SetClass: protocol.SetClass{Class: "demigod"}},
	}
	for i, cmd := range cases {
		if err := p.Push(cmd); !errors.Is(err, protocol.ErrValidation) {
			t.Errorf("case %d: err = %v, want validation", i, err)
		}
	}
}

func TestImplausibleDamageHintRejected(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")

	// No class reaches 99 from slot 1 at any level.
	err := p.Push(Command{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 1, Damage: 99}})
	if !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	err = p.Push(Command{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 1, Damage: -1}})
	if !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("negative hint err = %v, want validation", err)
	}

	// A hint inside the table range passes; the value is still ignored
	// downstream.
	err = p.Push(Command{PlayerID: "p1", Kind: CmdAttack, Attack: protocol.Attack{Slot: 1, Damage: 18}})
	if err != nil {
		t.Fatalf("plausible hint: %v", err)
	}
}

func TestQueueBoundDropsOldest(t *testing.T) {
	limits := testLimits()
	limits.MaxInputRate = 100000 // keep the limiter out of this test
	p := NewPipeline(limits)
	p.Register("p1")

	for seq := uint32(1); seq <= maxQueuedCommands+10; seq += 1 {
		if err := p.Push(inputCmd(seq)); err != nil {
			t.Fatalf("push %d: %v", seq, err)
		}
	}

	got := p.Drain("p1", nil)
	if len(got) != maxQueuedCommands {
		t.Fatalf("drained %d, want %d", len(got), maxQueuedCommands)
	}
	if got[0].Seq != 11 {
		t.Fatalf("oldest surviving seq = %d, want 11 (first 10 dropped)", got[0].Seq)
	}
}

func TestDrainEmptiesQueue(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")
	p.Push(inputCmd(1))
	p.Push(inputCmd(2))

	first := p.Drain("p1", nil)
	if len(first) != 2 {
		t.Fatalf("drained %d, want 2", len(first))
	}
	if len(p.Drain("p1", nil)) != 0 {
		t.Fatal("second drain should be empty")
	}
}

func TestUnregisterDropsQueue(t *testing.T) {
	p := NewPipeline(testLimits())
	p.Register("p1")
	p.Push(inputCmd(1))
	p.Unregister("p1")

	if err := p.Push(inputCmd(2)); !errors.Is(err, protocol.ErrStateConflict) {
		t.Fatalf("err = %v, want state conflict", err)
	}
}
