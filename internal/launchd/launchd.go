// Package launchd installs a macOS user agent that runs a vibecheck command on
// a fixed interval.
package launchd

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

var ErrUnsupported = errors.New("launchd is only available on macOS")

// InstallOptions config for creating/loading a launchd agent.
type InstallOptions struct {
	Label           string
	IntervalMinutes int
	ProgramPath     string   // absolute path to this binary
	ProgramArgs     []string // args after ProgramPath
	StdOutPath      string
	StdErrPath      string
	PlistPath       string // optional custom plist path
}

func DefaultAgentPath(label string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "Library", "LaunchAgents", label+".plist"), nil
}

// DefaultLogPath is where agent output goes when no log file is configured.
func DefaultLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Logs", "Vibecheck", "ingest.launchd.log")
}

// BuildPlist renders a plist that starts the program every IntervalMinutes.
// Each run is a one-shot process, so the agent is not kept alive.
func BuildPlist(opt InstallOptions) ([]byte, error) {
	if opt.Label == "" {
		return nil, errors.New("label required")
	}
	if opt.ProgramPath == "" {
		return nil, errors.New("program path required")
	}
	if opt.IntervalMinutes <= 0 {
		opt.IntervalMinutes = 60
	}
	if opt.StdOutPath == "" {
		opt.StdOutPath = DefaultLogPath()
	}
	if opt.StdErrPath == "" {
		opt.StdErrPath = opt.StdOutPath
	}

	escape := func(s string) string {
		var b bytes.Buffer
		xml.EscapeText(&b, []byte(s))
		return b.String()
	}
	str := func(buf *bytes.Buffer, indent, s string) {
		buf.WriteString(indent + "<string>" + escape(s) + "</string>\n")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<!DOCTYPE plist PUBLIC \"-//Apple//DTD PLIST 1.0//EN\" \"http://www.apple.com/DTDs/PropertyList-1.0.dtd\">\n")
	buf.WriteString("<plist version=\"1.0\">\n  <dict>\n")
	buf.WriteString("    <key>Label</key>\n")
	str(&buf, "    ", opt.Label)
	buf.WriteString("    <key>ProgramArguments</key>\n    <array>\n")
	str(&buf, "      ", opt.ProgramPath)
	for _, a := range opt.ProgramArgs {
		str(&buf, "      ", a)
	}
	buf.WriteString("    </array>\n")
	buf.WriteString("    <key>StartInterval</key>\n    <integer>")
	buf.WriteString(strconv.Itoa(opt.IntervalMinutes * 60))
	buf.WriteString("</integer>\n")
	buf.WriteString("    <key>RunAtLoad</key>\n    <true/>\n")
	buf.WriteString("    <key>StandardOutPath</key>\n")
	str(&buf, "    ", opt.StdOutPath)
	buf.WriteString("    <key>StandardErrorPath</key>\n")
	str(&buf, "    ", opt.StdErrPath)
	buf.WriteString("  </dict>\n</plist>\n")
	return buf.Bytes(), nil
}

// Install writes the plist and loads it via launchctl.
func Install(opt InstallOptions) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", ErrUnsupported
	}
	plistPath := opt.PlistPath
	if strings.TrimSpace(plistPath) == "" {
		var err error
		plistPath, err = DefaultAgentPath(opt.Label)
		if err != nil {
			return "", err
		}
	}
	data, err := BuildPlist(opt)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{filepath.Dir(plistPath), filepath.Dir(firstNonEmpty(opt.StdOutPath, DefaultLogPath()))} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	if err := os.WriteFile(plistPath, data, 0o644); err != nil {
		return "", err
	}

	lctl := launchctlPath()
	if lctl == "" {
		return plistPath, errors.New("launchctl not found in /bin, /usr/bin, or PATH")
	}

	domain := fmt.Sprintf("gui/%d", os.Getuid())
	// Reinstalling replaces a loaded agent.
	_ = exec.Command(lctl, "bootout", domain+"/"+opt.Label).Run()
	if err := exec.Command(lctl, "bootstrap", domain, plistPath).Run(); err != nil {
		if err2 := exec.Command(lctl, "load", "-w", plistPath).Run(); err2 != nil {
			return plistPath, fmt.Errorf("launchctl bootstrap/load failed: %v / %v", err, err2)
		}
	} else {
		_ = exec.Command(lctl, "enable", domain+"/"+opt.Label).Run()
	}
	return plistPath, nil
}

// Uninstall unloads and removes the plist.
func Uninstall(label string, plistPath string) error {
	if runtime.GOOS != "darwin" {
		return ErrUnsupported
	}
	if strings.TrimSpace(plistPath) == "" {
		var err error
		plistPath, err = DefaultAgentPath(label)
		if err != nil {
			return err
		}
	}
	lctl := launchctlPath()
	if lctl == "" {
		return errors.New("launchctl not found")
	}
	domain := fmt.Sprintf("gui/%d", os.Getuid())
	if err := exec.Command(lctl, "bootout", domain, plistPath).Run(); err != nil {
		_ = exec.Command(lctl, "unload", "-w", plistPath).Run()
	}
	if err := os.Remove(plistPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Status returns whether the agent is loaded and a short human string.
func Status(label string) (bool, string) {
	if runtime.GOOS != "darwin" || strings.TrimSpace(label) == "" {
		return false, "unsupported"
	}
	lctl := launchctlPath()
	if lctl == "" {
		return false, "launchctl not found"
	}
	out, err := exec.Command(lctl, "print", fmt.Sprintf("gui/%d/%s", os.Getuid(), label)).CombinedOutput()
	if err != nil {
		return false, "not loaded"
	}
	for _, ln := range strings.Split(string(out), "\n") {
		if strings.Contains(ln, "state = ") {
			return true, strings.TrimSpace(ln)
		}
	}
	return true, "loaded"
}

func launchctlPath() string {
	for _, c := range []string{"/bin/launchctl", "/usr/bin/launchctl"} {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	if p, err := exec.LookPath("launchctl"); err == nil {
		return p
	}
	return ""
}

// ExtractStartInterval best-effort parse of StartInterval seconds from a plist file.
func ExtractStartInterval(plistPath string) (int, error) {
	b, err := os.ReadFile(plistPath)
	if err != nil {
		return 0, err
	}
	s := string(b)
	i := strings.Index(s, "<key>StartInterval</key>")
	if i < 0 {
		return 0, errors.New("StartInterval not found")
	}
	sub := s[i:]
	start := strings.Index(sub, "<integer>")
	end := strings.Index(sub, "</integer>")
	if start < 0 || end < 0 || end <= start+9 {
		return 0, errors.New("invalid integer tag")
	}
	return strconv.Atoi(strings.TrimSpace(sub[start+9 : end]))
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
