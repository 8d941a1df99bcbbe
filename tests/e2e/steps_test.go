package e2e

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

// binaryPath holds the path to the compiled binary (set once in TestMain)
var binaryPath string

// projectRoot is the module root, used to resolve {configs}
var projectRoot string

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
}

// buildBinary compiles the umieforge binary once
func buildBinary() (string, error) {
	tmpFile, err := os.CreateTemp("", "umieforge-test-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", tmpFile.Name(), "./cmd/umieforge")
	cmd.Dir = projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build failed: %w\n%s", err, stderr.String())
	}

	return tmpFile.Name(), nil
}

// TestMain compiles the binary once before running all tests
func TestMain(m *testing.M) {
	_, thisFile, _, _ := runtime.Caller(0)
	projectRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")

	var err error
	binaryPath, err = buildBinary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}
	defer os.Remove(binaryPath)

	code := m.Run()
	os.Exit(code)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "umieforge-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^umieforge is built$`, tc.umieforgeIsBuilt)
	sc.Step(`^a file "([^"]*)" with:$`, tc.aFileWith)
	sc.Step(`^I run umieforge with "([^"]*)"$`, tc.iRunUmieforgeWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^"([^"]*)" should not exist$`, tc.shouldNotExist)
	sc.Step(`^"([^"]*)" should contain PNG files$`, tc.shouldContainPNGFiles)
	sc.Step(`^the manifest "([^"]*)" should have one record per PNG in "([^"]*)"$`, tc.manifestMatchesImages)
	sc.Step(`^"([^"]*)" should have (\d+) archived manifests?$`, tc.shouldHaveArchives)
}

func (tc *testContext) expand(s string) string {
	s = strings.ReplaceAll(s, "{tmpdir}", tc.tmpDir)
	return strings.ReplaceAll(s, "{configs}", filepath.Join(projectRoot, "configs"))
}

func (tc *testContext) umieforgeIsBuilt() error {
	if binaryPath == "" {
		return fmt.Errorf("binary not built")
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("binary does not exist at %s", binaryPath)
	}
	return nil
}

func (tc *testContext) aFileWith(path string, body *godog.DocString) error {
	path = tc.expand(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body.Content), 0o644)
}

func (tc *testContext) iRunUmieforgeWith(args string) error {
	argList := splitArgs(tc.expand(args))

	cmd := exec.Command(binaryPath, argList...)
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	tc.output = output.String()

	if exitErr, ok := err.(*exec.ExitError); ok {
		tc.exitCode = exitErr.ExitCode()
	} else if err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	} else {
		tc.exitCode = 0
	}

	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	path = tc.expand(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s", path)
	}
	return nil
}

func (tc *testContext) shouldNotExist(path string) error {
	path = tc.expand(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("path exists: %s", path)
	}
	return nil
}

func (tc *testContext) shouldContainPNGFiles(path string) error {
	files, err := findPNGFiles(tc.expand(path))
	if err != nil {
		return fmt.Errorf("failed to find PNG files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no PNG files in %s", path)
	}
	return nil
}

func (tc *testContext) manifestMatchesImages(manifest, images string) error {
	f, err := os.Open(tc.expand(manifest))
	if err != nil {
		return err
	}
	defer f.Close()

	records := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			records++
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	files, err := findPNGFiles(tc.expand(images))
	if err != nil {
		return err
	}
	if records == 0 || records != len(files) {
		return fmt.Errorf("manifest has %d records, %s holds %d images", records, images, len(files))
	}
	return nil
}

func (tc *testContext) shouldHaveArchives(dir string, count int) error {
	archives, err := filepath.Glob(filepath.Join(tc.expand(dir), "*.jsonl.*.zst"))
	if err != nil {
		return err
	}
	if len(archives) != count {
		return fmt.Errorf("expected %d archived manifests, found %d", count, len(archives))
	}
	return nil
}

// findPNGFiles finds all PNG files recursively
func findPNGFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".png") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
