package main

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func withArchonHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, hadOld := os.LookupEnv("ARCHON_HOME")
	os.Setenv("ARCHON_HOME", dir)
	t.Cleanup(func() {
		if hadOld {
			os.Setenv("ARCHON_HOME", old)
		} else {
			os.Unsetenv("ARCHON_HOME")
		}
	})
	return dir
}

func run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errBuf bytes.Buffer
	code = Run(append([]string{"archon"}, args...), &out, &errBuf)
	return out.String(), errBuf.String(), code
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	withArchonHome(t)
	out, _, code := run(t)
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
	if !strings.Contains(out, "STATUS") {
		t.Errorf("usage output missing STATUS section: %q", out)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	withArchonHome(t)
	_, errOut, code := run(t, "bogus")
	if code != 2 {
		t.Fatalf("code = %d, want 2", code)
	}
	if !strings.Contains(errOut, "Unknown command") {
		t.Errorf("stderr = %q, want Unknown command", errOut)
	}
}

func TestRun_StatusOnDefaultProject(t *testing.T) {
	withArchonHome(t)
	out, errOut, code := run(t, "status")
	if code != 0 {
		t.Fatalf("status failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "rs_hash") && !strings.Contains(out, "RS hash") {
		t.Errorf("status output missing rule snapshot hash: %q", out)
	}
}

func TestRun_EnableModuleThenCapability(t *testing.T) {
	withArchonHome(t)

	_, errOut, code := run(t, "enable", "module", "fs-module", "--approver", "tester")
	if code != 0 {
		t.Fatalf("enable module failed: code=%d stderr=%s", code, errOut)
	}

	_, errOut, code = run(t, "enable", "capability", "fs.read", "--approver", "tester")
	if code != 0 {
		t.Fatalf("enable capability failed: code=%d stderr=%s", code, errOut)
	}

	out, errOut, code := run(t, "status", "--json")
	if code != 0 {
		t.Fatalf("status failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "fs-module") || !strings.Contains(out, "fs.read") {
		t.Errorf("status json missing enabled module/capability: %q", out)
	}
}

func TestRun_RestrictAddAndList(t *testing.T) {
	withArchonHome(t)

	_, errOut, code := run(t, "restrict", "add-dsl", `deny fs.read where capability.params.path matches "/etc/**"`)
	if code != 0 {
		t.Fatalf("restrict add-dsl failed: code=%d stderr=%s", code, errOut)
	}

	out, errOut, code := run(t, "rules")
	if code != 0 {
		t.Fatalf("rules failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "fs.read") {
		t.Errorf("rules output missing compiled rule: %q", out)
	}
}

func TestRun_ProposeThenListPending(t *testing.T) {
	withArchonHome(t)

	out, errOut, code := run(t, "propose", "enable", "module", "fs-module", "--as", "agent-1")
	if code != 0 {
		t.Fatalf("propose failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "proposed") {
		t.Fatalf("unexpected propose output: %q", out)
	}

	listOut, errOut, code := run(t, "proposals", "list", "--status", "pending")
	if code != 0 {
		t.Fatalf("proposals list failed: code=%d stderr=%s", code, errOut)
	}
	if strings.TrimSpace(listOut) == "" {
		t.Fatalf("expected a pending proposal in list, got empty output")
	}
	_ = errOut
}

func TestRun_ProjectCreateListOpenCurrent(t *testing.T) {
	withArchonHome(t)

	out, errOut, code := run(t, "project", "create", "proj-a", "--name", "Project A")
	if code != 0 {
		t.Fatalf("project create failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "proj-a") {
		t.Fatalf("unexpected create output: %q", out)
	}

	out, errOut, code = run(t, "project", "create", "--name", "Project B")
	if code != 0 {
		t.Fatalf("project create (auto id) failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "created project ") {
		t.Fatalf("unexpected auto-id create output: %q", out)
	}

	out, errOut, code = run(t, "project", "open", "proj-a")
	if code != 0 {
		t.Fatalf("project open failed: code=%d stderr=%s", code, errOut)
	}

	out, errOut, code = run(t, "project", "current")
	if code != 0 {
		t.Fatalf("project current failed: code=%d stderr=%s", code, errOut)
	}
	if strings.TrimSpace(out) != "proj-a" {
		t.Errorf("current project = %q, want proj-a", strings.TrimSpace(out))
	}

	out, errOut, code = run(t, "project", "list")
	if code != 0 {
		t.Fatalf("project list failed: code=%d stderr=%s", code, errOut)
	}
	if !strings.Contains(out, "proj-a") {
		t.Errorf("project list missing proj-a: %q", out)
	}
}
