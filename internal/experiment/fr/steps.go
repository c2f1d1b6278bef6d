package fr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/experiment"
	"github.com/kahana-sysadmin/UnityEPL/internal/statemachine"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

type (
	stepCtx = *statemachine.StepContext
	cont    = statemachine.Continuation
)

// keyFilter maps a key event to the continuation it triggers, or reports
// false to keep waiting.
type keyFilter func(ev api.KeyEvent) (cont, bool)

func anyKey(ev api.KeyEvent) (cont, bool) {
	return statemachine.Next(), ev.Down
}

// yesNo continues on Y and applies no on N.
func (e *Experiment) yesNo(no cont) keyFilter {
	return func(ev api.KeyEvent) (cont, bool) {
		if !ev.Down {
			return cont{}, false
		}
		switch ev.Key {
		case "y":
			e.env.Display.ClearText()
			return statemachine.Next(), true
		case "n":
			return no, true
		}
		return cont{}, false
	}
}

// waitForKey shows prompt and suspends until accept takes a key.
func (e *Experiment) waitForKey(sc stepCtx, tag, prompt string, accept keyFilter) (cont, error) {
	e.env.Display.ShowText(tag, prompt)
	e.armKey(sc, tag, accept)
	return statemachine.Suspend(), nil
}

func (e *Experiment) armKey(sc stepCtx, name string, accept keyFilter) {
	e.env.Manager.RegisterKeyHandler(name, func(ctx context.Context, ev api.KeyEvent) error {
		if !sc.Waiting() {
			return nil
		}
		c, ok := accept(ev)
		if !ok {
			e.armKey(sc, name, accept)
			return nil
		}
		return sc.Resume(c)
	})
}

// playVideo suspends until the player reports the end of name.
func (e *Experiment) playVideo(sc stepCtx, name string, skippable bool) (cont, error) {
	done := func() {
		e.env.Manager.Do(sc.ResumeItem(name+" finished", statemachine.Next()))
	}
	if err := e.env.Video.Play(sc.Context(), name, skippable, done); err != nil {
		return cont{}, fmt.Errorf("play %s: %w", name, err)
	}
	return statemachine.Suspend(), nil
}

func (e *Experiment) report(sc stepCtx, eventType string, data map[string]any) {
	if err := e.env.Manager.ReportEvent(sc.Context(), eventType, data); err != nil {
		sc.Logger().WarnContext(sc.Context(), "report_failed", slog.String("type", eventType), slog.Any("error", err))
	}
}

func (e *Experiment) hostPC(sc stepCtx, msgType string, data map[string]any) {
	if err := e.env.Manager.SendHostPCMessage(sc.Context(), msgType, data); err != nil {
		e.env.Manager.Notify(err)
	}
}

// randDelay draws a delay in [lo, hi) milliseconds.
func randDelay(rng *rand.Rand, bounds [2]int) time.Duration {
	ms := bounds[0]
	if span := bounds[1] - bounds[0]; span > 0 {
		ms += rng.IntN(span)
	}
	return time.Duration(ms) * time.Millisecond
}

func (e *Experiment) currentList(sc stepCtx) (List, int, error) {
	i := sc.State().Int(ListIndex)
	if i < 0 || i >= len(e.session) {
		return List{}, i, fmt.Errorf("list %d outside session of %d lists", i, len(e.session))
	}
	return e.session[i], i, nil
}

// Run machine.

func (e *Experiment) introductionPrompt(sc stepCtx) (cont, error) {
	return e.waitForKey(sc, "show instruction video", "Press any key to show instruction video", anyKey)
}

func (e *Experiment) introductionVideo(sc stepCtx) (cont, error) {
	e.env.Display.ClearText()
	return e.playVideo(sc, "introduction", true)
}

func (e *Experiment) repeatVideo(sc stepCtx) (cont, error) {
	return e.waitForKey(sc, "repeat introduction video",
		"Press Y to continue to practice list,\nPress N to replay instructional video.",
		e.yesNo(statemachine.Goto(runIntroVideo)))
}

func (e *Experiment) repeatMicTest(sc stepCtx) (cont, error) {
	return e.waitForKey(sc, "repeat mic test",
		"Did you hear the recording?\n(Y=Continue / N=Try Again).",
		e.yesNo(statemachine.Goto(runMicTest)))
}

func (e *Experiment) quitOrContinue(sc stepCtx) (cont, error) {
	return e.waitForKey(sc, "quit or continue", "Press Y to continue, N to quit.",
		func(ev api.KeyEvent) (cont, bool) {
			if !ev.Down {
				return cont{}, false
			}
			switch ev.Key {
			case "y":
				e.env.Display.ClearText()
				return statemachine.Next(), true
			case "n":
				e.env.Manager.Quit()
				return statemachine.Suspend(), true
			}
			return cont{}, false
		})
}

func (e *Experiment) finish(sc stepCtx) (cont, error) {
	e.env.Display.ShowText("end", "Thank you for participating!")
	e.hostPC(sc, "EXIT", nil)
	return statemachine.Complete(), nil
}

// MicrophoneTest machine.

func (e *Experiment) micTestPrompt(sc stepCtx) (cont, error) {
	return e.waitForKey(sc, "microphone test prompt",
		"Press any key to record a sound after the beep.", anyKey)
}

func (e *Experiment) recordTest(sc stepCtx) (cont, error) {
	stamp := e.env.Manager.Queue().Now().Format("2006-01-02_15_04_05")
	path := filepath.Join(e.env.SessionDir, "microphone_test_"+stamp+".wav")
	sc.State().SetText(RecordTestPath, path)

	if err := e.env.Recorder.StartRecording(sc.Context(), path); err != nil {
		return cont{}, err
	}
	e.env.Display.ShowText("microphone test", "Recording...")
	return statemachine.Next().After(e.timing.micTest), nil
}

func (e *Experiment) playbackTest(sc stepCtx) (cont, error) {
	path, err := e.env.Recorder.StopRecording(sc.Context())
	switch {
	case errors.Is(err, experiment.ErrNotRecording):
		path = sc.State().Text(RecordTestPath)
	case err != nil:
		return cont{}, err
	}

	e.env.Display.ShowText("microphone test", "Playing...")
	done := func() {
		e.env.Manager.Do(sc.ResumeItem("playback finished", statemachine.Next()))
	}
	if err := e.env.Recorder.Playback(sc.Context(), path, done); err != nil {
		return cont{}, err
	}
	return statemachine.Suspend(), nil
}

// MainLoop machine.

func (e *Experiment) nextListPrompt(sc stepCtx) (cont, error) {
	prompt := "Press any key for practice trial."
	if n := sc.State().Int(ListIndex); n > 0 {
		prompt = "Press any key for trial " + strconv.Itoa(n) + "."
	}
	return e.waitForKey(sc, "pause before list", prompt, anyKey)
}

func (e *Experiment) startTrial(sc stepCtx) (cont, error) {
	e.env.Display.ClearText()
	l, i, err := e.currentList(sc)
	if err != nil {
		return cont{}, err
	}
	data := map[string]any{"trial": i, "stim": l.EncodingStim}
	e.report(sc, "start trial", data)
	e.hostPC(sc, "TRIAL", data)
	return statemachine.Next(), nil
}

func (e *Experiment) rest(sc stepCtx) (cont, error) {
	e.env.Display.ShowText("orientation stimulus", "+")
	e.report(sc, "rest", nil)
	e.hostPC(sc, "REST", nil)
	return statemachine.Next().After(e.timing.rest), nil
}

func (e *Experiment) countdown(sc stepCtx) (cont, error) {
	e.env.Display.ClearText()
	e.report(sc, "rest end", nil)
	return e.playVideo(sc, "countdown", false)
}

func (e *Experiment) encodingDelay(sc stepCtx) (cont, error) {
	d := randDelay(sc.Rand(), e.timing.encodingDelay)
	e.hostPC(sc, "ISI", map[string]any{"duration": d.Milliseconds()})
	return statemachine.Next().After(d), nil
}

// encoding shows one word per invocation and repeats itself until the list
// is exhausted.
func (e *Experiment) encoding(sc stepCtx) (cont, error) {
	l, _, err := e.currentList(sc)
	if err != nil {
		return cont{}, err
	}
	st := sc.State()
	pos := st.Int(WordIndex)
	if pos >= len(l.Encoding) {
		st.SetInt(WordIndex, 0)
		return statemachine.Next(), nil
	}

	word := l.Encoding[pos]
	data := map[string]any{"word": word, "serialpos": pos, "stim": l.EncodingStim}
	e.env.Display.ShowText("word stimulus", word)
	e.report(sc, "word stimulus", data)
	e.hostPC(sc, "WORD", data)
	sc.Schedule(eventqueue.NewItem("clear word", func(ctx context.Context) error {
		e.env.Display.ClearText()
		return e.env.Manager.ReportEvent(ctx, "clear word stimulus", nil)
	}), e.timing.stimulus)

	st.SetInt(WordIndex, pos+1)
	return statemachine.Again().After(e.timing.stimulus + randDelay(sc.Rand(), e.timing.isi)), nil
}

// distractor poses arithmetic problems until the distractor period ends.
func (e *Experiment) distractor(sc stepCtx) (cont, error) {
	task := &mathTask{e: e, sc: sc}
	task.next()
	task.arm()
	sc.Schedule(sc.ResumeItem("distractor timeout", statemachine.Next()), e.timing.distractor)
	return statemachine.Suspend(), nil
}

type mathTask struct {
	e      *Experiment
	sc     stepCtx
	terms  [3]int
	answer string
}

func (t *mathTask) problem() string {
	return fmt.Sprintf("%d + %d + %d = ", t.terms[0], t.terms[1], t.terms[2])
}

func (t *mathTask) next() {
	rng := t.sc.Rand()
	for i := range t.terms {
		t.terms[i] = 1 + rng.IntN(9)
	}
	t.answer = ""
	t.e.env.Display.ShowText("distractor", t.problem())
}

func (t *mathTask) arm() {
	t.e.env.Manager.RegisterKeyHandler("distractor", func(ctx context.Context, ev api.KeyEvent) error {
		if !t.sc.Waiting() {
			return nil
		}
		if ev.Down {
			t.press(ev.Key)
		}
		t.arm()
		return nil
	})
}

func (t *mathTask) press(key string) {
	switch {
	case len(key) == 1 && key[0] >= '0' && key[0] <= '9':
		t.answer += key
	case key == "backspace" && t.answer != "":
		t.answer = t.answer[:len(t.answer)-1]
	case key == "enter" || key == "return":
		sum := t.terms[0] + t.terms[1] + t.terms[2]
		given, err := strconv.Atoi(t.answer)
		t.e.report(t.sc, "distractor answered", map[string]any{
			"problem": t.problem(),
			"answer":  t.answer,
			"correct": err == nil && given == sum,
		})
		t.next()
		return
	default:
		return
	}
	t.e.env.Display.ShowText("distractor", t.problem()+t.answer)
}

func (e *Experiment) recallPrompt(sc stepCtx) (cont, error) {
	e.env.Display.ShowText("recall prompt", "*******")
	e.report(sc, "recall prompt", nil)
	return statemachine.Next().After(e.timing.recallPrompt), nil
}

func (e *Experiment) recallStart(sc stepCtx) (cont, error) {
	e.env.Display.ClearText()
	_, i, err := e.currentList(sc)
	if err != nil {
		return cont{}, err
	}
	path := filepath.Join(e.env.SessionDir, strconv.Itoa(i)+".wav")
	if err := e.env.Recorder.StartRecording(sc.Context(), path); err != nil {
		return cont{}, err
	}
	e.report(sc, "recall start", map[string]any{"path": path})
	e.hostPC(sc, "RECALL", map[string]any{"duration": e.timing.recall.Milliseconds()})
	return statemachine.Next().After(e.timing.recall), nil
}

func (e *Experiment) recallEnd(sc stepCtx) (cont, error) {
	path, err := e.env.Recorder.StopRecording(sc.Context())
	if err != nil && !errors.Is(err, experiment.ErrNotRecording) {
		return cont{}, err
	}
	e.report(sc, "recall stop", map[string]any{"path": path})
	return statemachine.Next(), nil
}

func (e *Experiment) endTrial(sc stepCtx) (cont, error) {
	e.hostPC(sc, "TRIALEND", nil)
	return statemachine.Next(), nil
}
