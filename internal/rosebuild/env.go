package rosebuild

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// ResolvedEnv is the validated dependency set handed to every stage. It is
// computed once at startup and never written back into the process
// environment.
type ResolvedEnv struct {
	Boost    string
	BoostLib string
	JavaHome string

	// LibraryPathVar is LD_LIBRARY_PATH or DYLD_LIBRARY_PATH.
	LibraryPathVar string
	LibraryPath    string
}

// Environ returns base with JAVA_HOME and the library search path replaced.
func (r *ResolvedEnv) Environ(base []string) []string {
	out := make([]string, 0, len(base)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, "JAVA_HOME=") || strings.HasPrefix(kv, r.LibraryPathVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "JAVA_HOME="+r.JavaHome)
	out = append(out, r.LibraryPathVar+"="+r.LibraryPath)
	return out
}

// EnvResolver locates the boost installation and the JDK.
type EnvResolver struct {
	Policy ConfirmationPolicy
	GOOS   string
	Getenv func(string) string
	// Candidates overrides the platform JDK search list when non-nil.
	Candidates []string
}

func NewEnvResolver(policy ConfirmationPolicy) *EnvResolver {
	return &EnvResolver{Policy: policy, GOOS: runtime.GOOS, Getenv: os.Getenv}
}

// Resolve validates the auxiliary library directory and the JDK and derives
// the native library search path. It never touches the filesystem beyond
// reading it.
func (r *EnvResolver) Resolve(boostDir, javaHomeOverride string) (*ResolvedEnv, error) {
	boostLib, err := checkBoost(boostDir)
	if err != nil {
		return nil, err
	}

	javaHome, err := r.findJavaHome(javaHomeOverride)
	if err != nil {
		return nil, err
	}

	jvmDir, err := findLibJVM(javaHome, r.GOOS)
	if err != nil {
		return nil, stageErr("resolve", ErrMissingDependency, err,
			"set JAVA_HOME to a full JDK, not a JRE")
	}

	varName := libraryPathVar(r.GOOS)
	parts := []string{jvmDir}
	if sibling := filepath.Dir(jvmDir); sibling != jvmDir && isDir(sibling) {
		parts = append(parts, sibling)
	}
	if existing := r.Getenv(varName); existing != "" {
		parts = append(parts, existing)
	}

	env := &ResolvedEnv{
		Boost:          boostDir,
		BoostLib:       boostLib,
		JavaHome:       javaHome,
		LibraryPathVar: varName,
		LibraryPath:    strings.Join(parts, string(os.PathListSeparator)),
	}
	debugf("Resolved %s=%s\n", env.LibraryPathVar, env.LibraryPath)
	return env, nil
}

// checkBoost verifies dir, dir/include and one of dir/lib64, dir/lib.
func checkBoost(dir string) (string, error) {
	hint := "pass the boost installation prefix with -b"
	if dir == "" {
		return "", stageErr("resolve", ErrMissingDependency, fmt.Errorf("boost directory not set"), hint)
	}
	if !isDir(dir) {
		return "", stageErr("resolve", ErrMissingDependency,
			fmt.Errorf("boost directory %s does not exist", dir), hint)
	}
	if !isDir(filepath.Join(dir, "include")) {
		return "", stageErr("resolve", ErrMissingDependency,
			fmt.Errorf("boost directory %s has no include directory", dir), hint)
	}
	for _, sub := range []string{"lib64", "lib"} {
		if lib := filepath.Join(dir, sub); isDir(lib) {
			return lib, nil
		}
	}
	return "", stageErr("resolve", ErrMissingDependency,
		fmt.Errorf("boost directory %s has neither lib64 nor lib", dir), hint)
}

func (r *EnvResolver) findJavaHome(override string) (string, error) {
	if override != "" {
		if !isDir(override) {
			return "", stageErr("resolve", ErrMissingDependency,
				fmt.Errorf("JAVA_HOME %s does not exist", override), "")
		}
		return override, nil
	}
	if env := r.Getenv("JAVA_HOME"); env != "" && isDir(env) {
		return env, nil
	}

	candidates := r.Candidates
	if candidates == nil {
		candidates = jdkCandidates(r.GOOS)
	}
	var existing []string
	for _, c := range candidates {
		if isDir(c) {
			existing = append(existing, c)
		}
	}
	if len(existing) == 0 {
		return "", stageErr("resolve", ErrMissingDependency,
			fmt.Errorf("no JDK found"), "set JAVA_HOME")
	}

	for _, c := range existing {
		if r.Policy.Confirm("Use JDK at %s?", c) {
			return c, nil
		}
	}
	return "", stageErr("resolve", ErrMissingDependency,
		fmt.Errorf("no JDK accepted out of %d candidates", len(existing)), "set JAVA_HOME")
}

// jdkCandidates lists the conventional JDK locations for a platform, in the
// order they are offered.
func jdkCandidates(goos string) []string {
	var globs []string
	switch goos {
	case "darwin":
		globs = []string{
			"/Library/Java/JavaVirtualMachines/*/Contents/Home",
			"/System/Library/Frameworks/JavaVM.framework/Home",
		}
	default:
		globs = []string{
			"/usr/lib/jvm/*",
			"/usr/java/*",
			"/opt/java/*",
		}
	}
	var out []string
	for _, g := range globs {
		matches, _ := filepath.Glob(g)
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out
}

func libraryPathVar(goos string) string {
	if goos == "darwin" {
		return "DYLD_LIBRARY_PATH"
	}
	return "LD_LIBRARY_PATH"
}

func libJVMName(goos string) string {
	if goos == "darwin" {
		return "libjvm.dylib"
	}
	return "libjvm.so"
}

// findLibJVM returns the directory holding the JVM shared library. The
// "server" variant is preferred over "client".
func findLibJVM(javaHome, goos string) (string, error) {
	name := libJVMName(goos)
	var found []string
	err := filepath.WalkDir(javaHome, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && d.Name() == name {
			found = append(found, filepath.Dir(path))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%s not found under %s", name, javaHome)
	}
	sort.Slice(found, func(i, j int) bool {
		si := filepath.Base(found[i]) == "server"
		sj := filepath.Base(found[j]) == "server"
		if si != sj {
			return si
		}
		return found[i] < found[j]
	})
	return found[0], nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
