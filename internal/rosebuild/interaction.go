package rosebuild

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is one entry of the stage menu.
type Stage int

const (
	StageAcquire Stage = iota + 1
	StageConfigure
	StageBuild
	StageInstall
	StageRetention
	StageAll
)

var stageNames = map[Stage]string{
	StageAcquire:   "acquire",
	StageConfigure: "configure",
	StageBuild:     "build",
	StageInstall:   "install",
	StageRetention: "retention",
	StageAll:       "all",
}

var stageDescriptions = map[Stage]string{
	StageAcquire:   "Fetch or update the source tree",
	StageConfigure: "Recreate the build directory and run configure",
	StageBuild:     "Compile with make",
	StageInstall:   "Recreate the install prefix, make install, update latest",
	StageRetention: "Delete all but the newest archives, trees, builds and installs",
	StageAll:       "Run every stage above in order",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStageSelection accepts a menu number (1-6) or a stage name.
func ParseStageSelection(input string) (Stage, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return 0, fmt.Errorf("%w: empty selection", ErrInvalidSelection)
	}

	if idx, err := strconv.Atoi(input); err == nil {
		if idx < int(StageAcquire) || idx > int(StageAll) {
			return 0, fmt.Errorf("%w: number out of range (1-%d): %d", ErrInvalidSelection, int(StageAll), idx)
		}
		return Stage(idx), nil
	}

	for s, name := range stageNames {
		if name == input {
			return s, nil
		}
	}
	if input == "run-all" || input == "a" {
		return StageAll, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSelection, input)
}

// printStageMenu lists the six choices.
func printStageMenu() {
	fmt.Fprintln(console)
	arrowf("Stages\n")
	fmt.Fprintln(console, "--------------------------------")
	for s := StageAcquire; s <= StageAll; s++ {
		fmt.Fprintf(console, "%d) %-10s ", int(s), s.String())
		colInfo.Println(stageDescriptions[s])
	}
	fmt.Fprintln(console, "--------------------------------")
}

// AskForStage shows the menu and reads one selection. Empty input selects
// run-all.
func AskForStage(policy ConfirmationPolicy) (Stage, error) {
	if policy.Interactive() {
		printStageMenu()
	}
	answer, err := policy.Choose("Select a stage", strconv.Itoa(int(StageAll)))
	if err != nil {
		return 0, err
	}
	return ParseStageSelection(answer)
}
