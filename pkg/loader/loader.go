package loader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/build"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/mod/modconfig"
	"github.com/cockroachdb/errors"

	"github.com/taskcue/cuebridge/pkg/telemetry"
)

const (
	// ModuleRootEnv overrides module root detection. Packaged binaries are
	// often started from a working directory unrelated to the module.
	ModuleRootEnv = "CUEBRIDGE_MODULE_ROOT"

	// ModuleMarker is the directory that marks a CUE module root.
	ModuleMarker = "cue.mod"
)

// Sentinel errors. The engine maps them onto protocol error codes.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrLoad         = errors.New("load failure")
	ErrRegistryInit = errors.New("module registry initialization failed")
)

// Request describes what to load.
type Request struct {
	// ModuleRoot is the directory to start from. The actual module root is
	// the nearest ancestor containing ModuleMarker.
	ModuleRoot string
	// PackageName keeps only instances of this package when set.
	PackageName string
	// Recursive loads every instance below the load directory.
	Recursive bool
	// TargetDir overrides the load directory. Relative paths are resolved
	// against the module root.
	TargetDir string
}

// Instance is one configuration unit discovered under the module root.
type Instance struct {
	// Path is the instance directory relative to the module root, "." for
	// the root itself.
	Path string
	// Package is the CUE package name.
	Package string
	// Dir is the absolute instance directory.
	Dir string
	// Files are the parsed source files, the instance's own directory first
	// and then ancestors from nearest to farthest.
	Files []*ast.File
	// Err is the load error for this instance, if any.
	Err error

	build *build.Instance
}

// Build returns the underlying build instance for evaluation.
func (i *Instance) Build() *build.Instance {
	return i.build
}

// Result is the outcome of one discovery pass.
type Result struct {
	ModuleRoot string
	Dir        string
	Pattern    string
	Instances  []*Instance
}

// Pattern returns the load pattern for a single directory or a subtree.
func Pattern(recursive bool) string {
	if recursive {
		return "./..."
	}
	return "."
}

// ResolveModuleRoot returns the nearest ancestor of start that contains the
// module marker. ModuleRootEnv takes precedence when it names a module root.
func ResolveModuleRoot(start string) (string, error) {
	if env := os.Getenv(ModuleRootEnv); env != "" {
		if root, ok := moduleRootAt(env); ok {
			return root, nil
		}
	}

	if strings.TrimSpace(start) == "" {
		return "", errors.Wrap(ErrInvalidInput, "module root is empty")
	}

	dir, err := filepath.Abs(start)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidInput, "resolve %s: %v", start, err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", errors.WithHint(
			errors.Wrapf(ErrLoad, "module root %s is not a directory", dir),
			"pass an existing directory as moduleRoot")
	}

	for {
		if root, ok := moduleRootAt(dir); ok {
			return root, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.WithHintf(
		errors.Wrapf(ErrLoad, "no %s directory found in %s or any parent", ModuleMarker, start),
		"run `cue mod init` at the module root or set %s", ModuleRootEnv)
}

func moduleRootAt(dir string) (string, bool) {
	info, err := os.Stat(filepath.Join(dir, ModuleMarker))
	if err != nil || !info.IsDir() {
		return "", false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, true
}

// Load discovers the instances selected by req. Discovery runs once; load
// errors of individual instances are kept on the instance and never abort
// the batch. Package filtering happens after discovery because narrowing the
// load pattern to a package makes CUE synthesize ancestor-unified instances.
func Load(ctx context.Context, req Request) (*Result, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("loader")

	root, err := ResolveModuleRoot(req.ModuleRoot)
	if err != nil {
		return nil, err
	}

	dir, err := loadDir(root, req)
	if err != nil {
		return nil, err
	}

	registry, err := modconfig.NewRegistry(&modconfig.Config{})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "create module registry"), ErrRegistryInit)
	}

	pattern := Pattern(req.Recursive)
	logger.WithFields(map[string]interface{}{
		"module_root": root,
		"dir":         dir,
		"pattern":     pattern,
		"package":     req.PackageName,
	}).Debug("Discovering instances")

	built := load.Instances([]string{pattern}, &load.Config{
		ModuleRoot: root,
		Dir:        dir,
		Registry:   registry,
	})
	if len(built) == 0 {
		return nil, errors.Wrapf(ErrLoad, "no instances found in %s", dir)
	}

	res := &Result{ModuleRoot: root, Dir: dir, Pattern: pattern}
	for _, bi := range built {
		inst := newInstance(root, bi)
		if req.PackageName != "" && inst.Package != req.PackageName {
			if inst.Err == nil || inst.Package != "" {
				continue
			}
		}
		res.Instances = append(res.Instances, inst)
	}

	if len(res.Instances) == 0 {
		return nil, errors.WithHint(
			errors.Wrapf(ErrLoad, "no instances of package %q under %s", req.PackageName, dir),
			"check the package clause of the CUE files")
	}

	sort.SliceStable(res.Instances, func(i, j int) bool {
		return res.Instances[i].Path < res.Instances[j].Path
	})

	logger.Debugf("Discovered %d instances", len(res.Instances))
	return res, nil
}

func loadDir(root string, req Request) (string, error) {
	dir := req.ModuleRoot
	if req.TargetDir != "" {
		dir = req.TargetDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
	}

	abs, err := canonical(dir)
	if err != nil {
		return "", err
	}
	if req.TargetDir == "" && overridden(root) && !within(root, abs) {
		abs = root
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.WithHint(
			errors.Wrapf(ErrLoad, "load directory %s does not exist", abs),
			"targetDir must name a directory inside the module")
	}
	return abs, nil
}

// canonical returns dir as an absolute path with symlinks resolved when
// possible.
func canonical(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidInput, "resolve %s: %v", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// within reports whether dir is root or lies below it.
func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// overridden reports whether root came from ModuleRootEnv. A starting
// directory outside the overriding root is replaced by the root itself.
func overridden(root string) bool {
	env := os.Getenv(ModuleRootEnv)
	if env == "" {
		return false
	}
	r, ok := moduleRootAt(env)
	return ok && r == root
}

func newInstance(root string, bi *build.Instance) *Instance {
	inst := &Instance{
		Package: bi.PkgName,
		Dir:     bi.Dir,
		build:   bi,
	}
	if bi.Err != nil {
		inst.Err = bi.Err
	}

	inst.Path = "."
	if bi.Dir != "" {
		if rel, err := filepath.Rel(root, bi.Dir); err == nil {
			inst.Path = filepath.ToSlash(rel)
		}
	}

	inst.Files = append(inst.Files, bi.Files...)
	sort.SliceStable(inst.Files, func(i, j int) bool {
		return depth(inst.Files[i].Filename) > depth(inst.Files[j].Filename)
	})
	return inst
}

// depth counts the path separators in the directory of filename.
func depth(filename string) int {
	return strings.Count(filepath.Dir(filepath.Clean(filename)), string(filepath.Separator))
}
