package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/odvcencio/blockbench/pkg/config"
)

// Dependency represents a setup prerequisite
type Dependency struct {
	Name string
	Type string
	// Required dependencies block a run; the rest only warn.
	Required    bool
	CheckFunc   func() bool
	InstallFunc func(in *bufio.Reader, out io.Writer) error
	Prompt      string
	DocsLink    string
}

// Checker validates that required dependencies are present
type Checker struct {
	required []Dependency
	in       io.Reader
	out      io.Writer
}

// NewChecker constructs a dependency checker for cfg
func NewChecker(cfg *config.Config) *Checker {
	return &Checker{
		required: []Dependency{
			browserDependency(cfg.Browser.Bin),
			extensionDependency(cfg.ExtensionPath()),
			outputDirDependency(filepath.Dir(cfg.OutputPath("check.xlsx"))),
		},
		in:  os.Stdin,
		out: os.Stdout,
	}
}

// WithIO redirects the wizard's prompts and answers.
func (c *Checker) WithIO(in io.Reader, out io.Writer) *Checker {
	c.in = in
	c.out = out
	return c
}

// Dependencies returns every dependency the checker knows about.
func (c *Checker) Dependencies() []Dependency {
	return append([]Dependency(nil), c.required...)
}

// CheckAll returns the dependencies that are currently missing
func (c *Checker) CheckAll() []Dependency {
	missing := []Dependency{}
	for _, dep := range c.required {
		if dep.CheckFunc == nil {
			continue
		}
		if !dep.CheckFunc() {
			missing = append(missing, dep)
		}
	}
	return missing
}

// Blocking filters missing down to the required dependencies.
func Blocking(missing []Dependency) []Dependency {
	var out []Dependency
	for _, dep := range missing {
		if dep.Required {
			out = append(out, dep)
		}
	}
	return out
}

// RunWizard guides the user through installing missing dependencies
func (c *Checker) RunWizard(missing []Dependency) error {
	if len(missing) == 0 {
		return nil
	}

	fmt.Fprintln(c.out, "blockbench setup")
	fmt.Fprintln(c.out, "Some dependencies are missing.")

	reader := bufio.NewReader(c.in)

	for i, dep := range missing {
		fmt.Fprintf(c.out, "[%d/%d] %s (%s)\n", i+1, len(missing), dep.Name, dep.Type)
		if dep.Prompt != "" {
			fmt.Fprintln(c.out, dep.Prompt)
		}
		if dep.DocsLink != "" {
			fmt.Fprintf(c.out, "Docs: %s\n", dep.DocsLink)
		}

		if dep.InstallFunc == nil {
			fmt.Fprintln(c.out, "Please install manually and re-run blockbench.")
			continue
		}

		fmt.Fprint(c.out, "\nSet this up now? [Y/n]: ")
		if !confirmDefaultYes(reader) {
			fmt.Fprintln(c.out, "Skipping.")
			continue
		}

		if err := dep.InstallFunc(reader, c.out); err != nil {
			return fmt.Errorf("%s setup failed: %w", dep.Name, err)
		}

		fmt.Fprintln(c.out, "Done.")
	}

	return nil
}

// downloadBrowser fetches rod's pinned chromium build.
var downloadBrowser = func() (string, error) {
	return launcher.NewBrowser().Get()
}

// lookPath finds a system chromium.
var lookPath = launcher.LookPath

func browserDependency(bin string) Dependency {
	return Dependency{
		Name: "Chromium",
		Type: "binary",
		CheckFunc: func() bool {
			if b := strings.TrimSpace(bin); b != "" {
				_, err := exec.LookPath(b)
				return err == nil
			}
			_, found := lookPath()
			return found
		},
		InstallFunc: func(_ *bufio.Reader, out io.Writer) error {
			fmt.Fprintln(out, "Downloading chromium...")
			path, err := downloadBrowser()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Chromium installed at %s\n", path)
			return nil
		},
		Prompt:   "No chromium was found. blockbench downloads one on first launch, or you can fetch it now.",
		DocsLink: "https://go-rod.github.io/#/compatibility",
	}
}

func extensionDependency(path string) Dependency {
	return Dependency{
		Name:     "Content blocker extension",
		Type:     "directory",
		Required: true,
		CheckFunc: func() bool {
			return isUnpackedExtension(path)
		},
		InstallFunc: func(in *bufio.Reader, out io.Writer) error {
			fmt.Fprint(out, "Path to the unpacked extension directory: ")
			answer, err := in.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			answer = strings.TrimSpace(answer)
			if answer == "" {
				return errors.New("extension path cannot be empty")
			}
			abs, err := filepath.Abs(answer)
			if err != nil {
				return err
			}
			if !isUnpackedExtension(abs) {
				return fmt.Errorf("%s has no manifest.json", abs)
			}
			if err := persistEnv("BLOCKBENCH_EXTENSION_PATH", abs); err != nil {
				return err
			}
			fmt.Fprintln(out, "Saved to ~/.blockbench/config.env.")
			return nil
		},
		Prompt:   "Chromium only loads unpacked extensions. Unzip the uBlock Origin chromium release and point browser.extension_path at it.",
		DocsLink: "https://github.com/gorhill/uBlock/releases",
	}
}

func outputDirDependency(dir string) Dependency {
	return Dependency{
		Name:     "Output directory",
		Type:     "directory",
		Required: true,
		CheckFunc: func() bool {
			return isWritableDir(dir)
		},
		InstallFunc: func(_ *bufio.Reader, out io.Writer) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			fmt.Fprintf(out, "Created %s\n", dir)
			return nil
		},
		Prompt: fmt.Sprintf("The results workbook is written to %s.", dir),
	}
}

func isUnpackedExtension(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(path, "manifest.json"))
	return err == nil && !info.IsDir()
}

// isWritableDir tests dir, or its nearest existing ancestor when dir has
// not been created yet.
func isWritableDir(dir string) bool {
	info, err := os.Stat(dir)
	for os.IsNotExist(err) {
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
		info, err = os.Stat(dir)
	}
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".blockbench-writecheck-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	_ = os.Remove(name)
	return true
}

func confirmDefaultYes(reader *bufio.Reader) bool {
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "" || response == "y" || response == "yes"
}

// persistEnv sets key in ~/.blockbench/config.env, keeping other lines.
func persistEnv(key, value string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to locate home directory: %w", err)
	}

	dir := filepath.Join(home, ".blockbench")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	envPath := filepath.Join(dir, "config.env")
	var kept []string
	if data, err := os.ReadFile(envPath); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			trimmed := strings.TrimPrefix(strings.TrimSpace(line), "export ")
			if trimmed == "" || strings.HasPrefix(trimmed, key+"=") {
				continue
			}
			kept = append(kept, line)
		}
	}
	kept = append(kept, fmt.Sprintf("export %s=%q", key, value))

	if err := os.WriteFile(envPath, []byte(strings.Join(kept, "\n")+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", envPath, err)
	}
	return nil
}
