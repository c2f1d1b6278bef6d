// Package fr is the free recall experiment: participants study lists of words
// and recall them aloud while the session records audio.
package fr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/experiment"
	"github.com/kahana-sysadmin/UnityEPL/internal/statemachine"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

// ClassName is the experimentClass value that selects this experiment.
const ClassName = "FRExperiment"

// Machines of the experiment.
const (
	RunMachine api.MachineID = iota
	MicTestMachine
	MainLoopMachine
)

// State fields.
const (
	ListIndex      = "listIndex"
	WordIndex      = "wordIndex"
	RecordTestPath = "recordTestPath"
)

func init() {
	experiment.Register(ClassName, func(env *experiment.Env) (experiment.Core, error) {
		return New(env)
	})
}

// timing holds every duration the machines use.
type timing struct {
	rest            time.Duration
	stimulus        time.Duration
	isi             [2]int // ms
	encodingDelay   [2]int // ms
	distractor      time.Duration
	recallPrompt    time.Duration
	recall          time.Duration
	micTest         time.Duration
	resumeSkipsList bool
}

// Experiment is the free recall experiment.
type Experiment struct {
	env     *experiment.Env
	timing  timing
	pool    []string
	spec    RepeatSpec
	plan    ListPlan
	session Session
}

var _ experiment.Core = (*Experiment)(nil)

// New reads the experiment settings. Missing or malformed settings fail here,
// before anything runs.
func New(env *experiment.Env) (*Experiment, error) {
	s := env.Settings()
	e := &Experiment{env: env}

	var err error
	if e.timing, err = readTiming(s); err != nil {
		return nil, err
	}
	if e.pool, err = readPool(env); err != nil {
		return nil, err
	}
	if e.spec, err = readRepeatSpec(s); err != nil {
		return nil, err
	}
	if e.plan, err = readPlan(s); err != nil {
		return nil, err
	}
	return e, nil
}

func readTiming(s *config.Settings) (timing, error) {
	var t timing
	if err := s.Require("restDuration", "stimulusDuration", "interStimulusInterval",
		"encodingDelay", "distractorDuration", "recallPromptDuration", "recallDuration",
		"micTestDuration"); err != nil {
		return t, err
	}
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"restDuration", &t.rest},
		{"stimulusDuration", &t.stimulus},
		{"distractorDuration", &t.distractor},
		{"recallPromptDuration", &t.recallPrompt},
		{"recallDuration", &t.recall},
		{"micTestDuration", &t.micTest},
	}
	for _, d := range durations {
		v, err := s.Duration(d.key)
		if err != nil {
			return t, err
		}
		*d.dst = v
	}
	ranges := []struct {
		key string
		dst *[2]int
	}{
		{"interStimulusInterval", &t.isi},
		{"encodingDelay", &t.encodingDelay},
	}
	for _, r := range ranges {
		lo, hi, err := s.IntRange(r.key)
		if err != nil {
			return t, err
		}
		*r.dst = [2]int{lo, hi}
	}
	var err error
	t.resumeSkipsList, err = s.BoolOr("resumeSkipsList", false)
	return t, err
}

func readPool(env *experiment.Env) ([]string, error) {
	s := env.Settings()
	if path, err := s.String("wordpoolFile"); err == nil {
		return ReadWordPool(env.Fs(), path)
	} else if !errors.Is(err, config.ErrMissingSetting) {
		return nil, err
	}
	return s.Strings("wordpool")
}

func readRepeatSpec(s *config.Settings) (RepeatSpec, error) {
	_, rerr := s.Get("wordRepeats")
	_, cerr := s.Get("wordCounts")
	if errors.Is(rerr, config.ErrMissingSetting) && errors.Is(cerr, config.ErrMissingSetting) {
		n, err := s.IntOr("wordsPerList", 12)
		if err != nil {
			return RepeatSpec{}, err
		}
		return RepeatSpec{Repeats: []int{1}, Counts: []int{n}}, nil
	}
	repeats, err := intList(s, "wordRepeats")
	if err != nil {
		return RepeatSpec{}, err
	}
	counts, err := intList(s, "wordCounts")
	if err != nil {
		return RepeatSpec{}, err
	}
	spec := RepeatSpec{Repeats: repeats, Counts: counts}
	return spec, spec.validate()
}

func intList(s *config.Settings, key string) ([]int, error) {
	v, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want list of ints", config.ErrSettingType, key, v)
	}
	out := make([]int, 0, len(list))
	for _, e := range list {
		switch n := e.(type) {
		case int:
			out = append(out, n)
		case float64:
			out = append(out, int(n))
		default:
			return nil, fmt.Errorf("%w: %s has %T element", config.ErrSettingType, key, e)
		}
	}
	return out, nil
}

func readPlan(s *config.Settings) (ListPlan, error) {
	var p ListPlan
	fields := []struct {
		key string
		def int
		dst *int
	}{
		{"practiceLists", 1, &p.Practice},
		{"preNoStimLists", 3, &p.PreNoStim},
		{"encodingOnlyLists", 4, &p.EncodingOnly},
		{"retrievalOnlyLists", 4, &p.RetrievalOnly},
		{"encodingAndRetrievalLists", 4, &p.EncodingAndRetrieval},
		{"noStimLists", 10, &p.NoStim},
	}
	for _, f := range fields {
		n, err := s.IntOr(f.key, f.def)
		if err != nil {
			return p, err
		}
		*f.dst = n
	}
	return p, nil
}

func (e *Experiment) Root() api.MachineID { return RunMachine }

// Session returns the word lists of the run. It is empty before Prepare.
func (e *Experiment) Session() Session { return e.session }

// Prepare generates the session on a fresh run, or reloads the saved one on
// a resumed run.
func (e *Experiment) Prepare(ctx context.Context, run *statemachine.Runner) error {
	fsys, dir := e.env.Fs(), e.env.SessionDir
	if err := writeWordPool(fsys, dir, e.pool); err != nil {
		return fmt.Errorf("copy word pool: %w", err)
	}

	if run.Resumed() {
		s, err := LoadSession(fsys, dir)
		switch {
		case err == nil:
			e.session = s
			if e.timing.resumeSkipsList {
				skipInterruptedList(run.State())
			}
			return nil
		case errors.Is(err, fs.ErrNotExist):
			e.env.Logger.WarnContext(ctx, "session_words_missing", slog.String("dir", dir))
		default:
			return err
		}
	}

	s, err := GenerateSession(run.Rand(), e.pool, e.spec, e.plan)
	if err != nil {
		return err
	}
	e.session = s
	return SaveSession(fsys, dir, s)
}

// skipInterruptedList moves a resumed run to the prompt of the list after the
// one that was interrupted.
func skipInterruptedList(st *api.State) {
	if st.Cursor(RunMachine) != runMainLoop || st.Cursor(MainLoopMachine) == 0 {
		return
	}
	st.Incr(ListIndex)
	st.SetCursor(MainLoopMachine, 0)
	st.SetInt(WordIndex, 0)
}

func (e *Experiment) listDone(st *api.State) bool {
	return st.Int(ListIndex) >= len(e.session)
}

// Machines returns the Run, MicrophoneTest and MainLoop machines.
func (e *Experiment) Machines() []statemachine.Machine {
	return []statemachine.Machine{
		{
			ID:     RunMachine,
			Name:   "Run",
			Parent: api.NoMachine,
			Steps: []statemachine.Step{
				{Name: "introduction prompt", Fn: e.introductionPrompt},
				{Name: "introduction video", Fn: e.introductionVideo},
				{Name: "repeat video", Fn: e.repeatVideo},
				{Name: "microphone test", Fn: enter(MicTestMachine)},
				{Name: "repeat microphone test", Fn: e.repeatMicTest},
				{Name: "quit or continue", Fn: e.quitOrContinue},
				{Name: "main loop", Fn: enter(MainLoopMachine)},
				{Name: "finish", Fn: e.finish},
			},
		},
		{
			ID:     MicTestMachine,
			Name:   "MicrophoneTest",
			Parent: RunMachine,
			Steps: []statemachine.Step{
				{Name: "mic test prompt", Fn: e.micTestPrompt},
				{Name: "record test", Fn: e.recordTest},
				{Name: "playback test", Fn: e.playbackTest},
			},
		},
		{
			ID:     MainLoopMachine,
			Name:   "MainLoop",
			Parent: RunMachine,
			Steps: []statemachine.Step{
				{Name: "next list prompt", Fn: e.nextListPrompt},
				{Name: "start trial", Fn: e.startTrial},
				{Name: "rest", Fn: e.rest},
				{Name: "countdown video", Fn: e.countdown},
				{Name: "encoding delay", Fn: e.encodingDelay},
				{Name: "encoding", Fn: e.encoding},
				{Name: "distractor", Fn: e.distractor},
				{Name: "recall prompt", Fn: e.recallPrompt},
				{Name: "recall", Fn: e.recallStart},
				{Name: "recall end", Fn: e.recallEnd},
				{Name: "end trial", Fn: e.endTrial},
			},
			Repeat: func(st *api.State) bool {
				return st.Incr(ListIndex) < len(e.session)
			},
			Done: e.listDone,
		},
	}
}

// Step indices of the Run machine referenced by key handlers.
const (
	runIntroVideo = 1
	runMicTest    = 3
	runMainLoop   = 6
)

func enter(id api.MachineID) statemachine.StepFunc {
	return func(*statemachine.StepContext) (statemachine.Continuation, error) {
		return statemachine.Enter(id), nil
	}
}
