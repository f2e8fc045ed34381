// Package constants provides named constants used throughout the episim codebase.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Workspace layout
const (
	// DirName is the per-project state directory, created under the project root.
	DirName = ".episim"

	// DatabaseFile is the SQLite results store inside DirName.
	DatabaseFile = "episim.db"

	// EventsFile is the JSONL event trace written at debug and trace levels.
	EventsFile = "events.jsonl"

	// DefaultOutputDir is where per-scenario CSV and chart artifacts land
	// when the config does not name a directory.
	DefaultOutputDir = "out"
)

// Isolation policy effect constants. A restricting policy sets these rates on
// its group; a released policy resets both to zero.
const (
	// RestrictedSymptomaticIsolationRate is applied to symptomatic people.
	RestrictedSymptomaticIsolationRate = 0.9

	// RestrictedAsymptomaticIsolationRate is applied to everybody else.
	RestrictedAsymptomaticIsolationRate = 0.8

	// ReleasedIsolationRate is applied to both symptom states on release.
	ReleasedIsolationRate = 0.0
)

// Reference simulation settings.
const (
	// DefaultPopulationSize is the size of each scenario's population group.
	DefaultPopulationSize = 1000

	// DefaultCycles is the number of simulated days per scenario.
	DefaultCycles = 90

	// DefaultDailyInteractionCount is the number of contacts per person per day.
	DefaultDailyInteractionCount = 4

	// DefaultContagionProbability is the per-contact transmission probability.
	DefaultContagionProbability = 0.2

	// DefaultSeed seeds the per-scenario RNGs when the config does not.
	DefaultSeed = 1

	// DefaultGroupID names the single population group of a scenario.
	DefaultGroupID = "population"
)

// ConfigBaseName is the project config file name without extension. Load
// looks for episim.yaml, episim.yml and episim.toml in that order.
const ConfigBaseName = "episim"

// Policy kinds accepted in scenario configuration.
const (
	// PolicyThreshold is the one-shot restrict-then-release isolation policy.
	PolicyThreshold = "threshold"
)

// Artifact names derive from the scenario ID, e.g. scenario4.csv.
const (
	ArtifactPrefix = "scenario"
	CSVExt         = ".csv"
	ChartExt       = ".png"
)
