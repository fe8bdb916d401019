package rosebuild

import (
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug     bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
	arch      = runtime.GOARCH
)

// Defaults used when neither the config file, the environment nor a flag
// provides a value.
const (
	defaultBoostDir      = "/usr/local/boost"
	defaultRepository    = "rose"
	defaultGitBaseURL    = "https://github.com/rose-compiler"
	defaultPackage       = "rose"
	defaultArchiveMarker = "-without-EDG"
	defaultArchiveIndex  = "https://outreach.scidac.gov/frs/?group_id=24"
	defaultMakeCommand   = "make"
	defaultS3Region      = "auto"
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
