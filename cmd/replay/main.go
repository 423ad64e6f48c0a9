// Command replay verifies a stored exercise: it replays the history of an
// export from its initial state, checks the result against the exported
// current state and then applies the action log written after the export.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	actionlog "manvsim.ai/internal/persistence/log"
	"manvsim.ai/internal/persistence/snapshot"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/migration"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
)

func main() {
	var (
		exportPath  = flag.String("export", "", "path to a complete export (.json or .json.zst)")
		exerciseDir = flag.String("exercise", "", "exercise dir (<data>/exercises/<id>); uses its latest export and action log")
		toIndex     = flag.Uint64("to_index", 0, "stop after this action index (inclusive, optional)")
		outPath     = flag.String("out", "", "write the replayed state as a complete export (optional)")
	)
	flag.Parse()

	if *exportPath == "" && *exerciseDir == "" {
		fmt.Fprintln(os.Stderr, "missing -export or -exercise")
		os.Exit(2)
	}

	res, err := replay(reducer.Default(), *exportPath, *exerciseDir, *toIndex)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}

	s := res.current
	fmt.Printf("exercise=%s status=%s time=%dms actions=%d (export=%d log=%d) patients=%d vehicles=%d regions=%d clients=%d\n",
		s.ParticipantID, s.CurrentStatus, s.CurrentTime, len(res.actions), res.fromExport, res.fromLog,
		len(s.Patients), len(s.Vehicles), len(s.SimulatedRegions), len(s.Clients))

	if *outPath != "" {
		if err := snapshot.WriteFile(*outPath, migration.NewStateExport(res.current, res.initial, res.actions)); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		fmt.Println("wrote", *outPath)
	}
}

type result struct {
	initial    *model.ExerciseState
	current    *model.ExerciseState
	actions    []json.RawMessage
	fromExport int
	fromLog    int
}

func replay(reg *reducer.Registry, exportPath, exerciseDir string, toIndex uint64) (*result, error) {
	if exportPath == "" {
		p, _, err := exercise.LatestExport(exerciseDir)
		if err != nil {
			return nil, err
		}
		exportPath = p
	}
	exp, err := snapshot.ReadStateExport(exportPath)
	if err != nil {
		return nil, err
	}

	res := &result{initial: exp.CurrentState, current: exp.CurrentState}
	if exp.History != nil {
		res.initial = exp.History.InitialState
		res.current = res.initial
		for i, raw := range exp.History.ActionHistory {
			if toIndex != 0 && uint64(i) >= toIndex {
				return res, nil
			}
			if res.current, _, err = reg.ApplyRaw(res.current, raw, model.RoleServer); err != nil {
				return nil, fmt.Errorf("history action %d: %w", i+1, err)
			}
			res.actions = append(res.actions, raw)
		}
		res.fromExport = len(res.actions)
		if err := sameState(res.current, exp.CurrentState); err != nil {
			return nil, fmt.Errorf("%s: %w", exportPath, err)
		}
	}
	if exerciseDir == "" {
		return res, nil
	}

	entries, err := actionlog.ReadActions(exerciseDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: action log:", err)
	}
	for _, e := range entries {
		if e.Index <= uint64(len(res.actions)) {
			continue
		}
		if toIndex != 0 && e.Index > toIndex {
			break
		}
		if e.Index != uint64(len(res.actions))+1 {
			return nil, fmt.Errorf("action log gap: want index %d got %d", len(res.actions)+1, e.Index)
		}
		if res.current, _, err = reg.ApplyRaw(res.current, e.Action, model.RoleServer); err != nil {
			return nil, fmt.Errorf("log action %d: %w", e.Index, err)
		}
		res.actions = append(res.actions, e.Action)
		res.fromLog++
	}
	return res, nil
}

func sameState(got, want *model.ExerciseState) error {
	a, err := json.Marshal(got)
	if err != nil {
		return err
	}
	b, err := json.Marshal(want)
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return fmt.Errorf("replayed history does not reproduce the exported state")
	}
	return nil
}
