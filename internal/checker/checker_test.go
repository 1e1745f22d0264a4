package checker

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/liberodark/check-updates/internal/health"
	"github.com/liberodark/check-updates/internal/packagekit"
	"github.com/liberodark/check-updates/internal/patching"
)

type fakeService struct {
	ids        []string
	details    []packagekit.UpdateDetail
	refreshErr error
	updatesErr error
	detailsErr error
	applyErr   error

	// onRefresh runs inside RefreshCache, e.g. to cancel the run.
	onRefresh func()

	calls      []string
	detailIDs  []string
	appliedIDs []string
}

func (f *fakeService) RefreshCache(ctx context.Context) error {
	f.calls = append(f.calls, "refresh")
	if f.onRefresh != nil {
		f.onRefresh()
	}
	return f.refreshErr
}

func (f *fakeService) GetUpdates(ctx context.Context) ([]string, error) {
	f.calls = append(f.calls, "updates")
	return f.ids, f.updatesErr
}

func (f *fakeService) GetUpdateDetails(ctx context.Context, ids []string) ([]packagekit.UpdateDetail, error) {
	f.calls = append(f.calls, "details")
	f.detailIDs = ids
	return f.details, f.detailsErr
}

func (f *fakeService) ApplyUpdates(ctx context.Context, ids []string) error {
	f.calls = append(f.calls, "apply")
	f.appliedIDs = ids
	return f.applyErr
}

type fakeConfirmer struct {
	answer bool
	err    error
	asked  []patching.Update
}

func (c *fakeConfirmer) Confirm(ctx context.Context, updates []patching.Update) (bool, error) {
	c.asked = updates
	return c.answer, c.err
}

func securityDetail(id string) packagekit.UpdateDetail {
	return packagekit.UpdateDetail{PackageID: id, CVEURLs: []string{"https://cve.example/" + id}}
}

func manySecurity(n int) ([]string, []packagekit.UpdateDetail) {
	ids := make([]string, n)
	details := make([]packagekit.UpdateDetail, n)
	for i := range ids {
		ids[i] = "pkg" + string(rune('a'+i)) + ";1.0;x86_64;updates"
		details[i] = securityDetail(ids[i])
	}
	return ids, details
}

func TestRunNoUpdates(t *testing.T) {
	svc := &fakeService{}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != NoUpdates {
		t.Fatalf("State = %v, want no-updates", res.State)
	}
	want := "UPDATE OK - Everything is up to date | 'Total Update'=0 'Security Update'=0"
	if got := res.Verdict.String(); got != want {
		t.Fatalf("verdict = %q, want %q", got, want)
	}
	if !reflect.DeepEqual(svc.calls, []string{"refresh", "updates"}) {
		t.Fatalf("calls = %v, detail phase must not run", svc.calls)
	}
}

func TestRunCriticalThresholdIsInclusive(t *testing.T) {
	ids, details := manySecurity(10)
	svc := &fakeService{ids: ids, details: details}

	res, err := NewRunner(svc, Options{Warning: 5, Critical: 10}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Verdict.Status != health.Critical {
		t.Fatalf("Status = %q, want Critical", res.Verdict.Status)
	}
	if res.Verdict.ExitCode() != 2 {
		t.Fatalf("ExitCode = %d, want 2", res.Verdict.ExitCode())
	}
}

func TestRunScoring(t *testing.T) {
	ids := []string{"a;1.0", "b;2.0", "c"}
	details := []packagekit.UpdateDetail{{PackageID: "a;1.0"}, securityDetail("b;2.0")}

	tests := []struct {
		name     string
		warning  int
		critical int
		want     health.Status
	}{
		{"ok", 2, 3, health.OK},
		{"warning", 1, 3, health.Warning},
		{"critical", 0, 1, health.Critical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{ids: ids, details: details}
			res, err := NewRunner(svc, Options{Warning: tt.warning, Critical: tt.critical}).Run(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if res.Verdict.Status != tt.want {
				t.Fatalf("Status = %q, want %q", res.Verdict.Status, tt.want)
			}
			if res.Summary.Total != 3 || res.Summary.Security != 1 {
				t.Fatalf("Summary = %+v", res.Summary)
			}
			if !reflect.DeepEqual(svc.detailIDs, ids) {
				t.Fatalf("details requested for %v, want %v", svc.detailIDs, ids)
			}
			wantLong := []string{"Security updates:", "b 2.0 (SECURITY)"}
			if !reflect.DeepEqual(res.Verdict.LongOutput, wantLong) {
				t.Fatalf("LongOutput = %q, want %q", res.Verdict.LongOutput, wantLong)
			}
			if !strings.HasSuffix(res.Verdict.String(), "| 'Total Update'=3 'Security Update'=1\nSecurity updates:\nb 2.0 (SECURITY)") {
				t.Fatalf("unexpected output %q", res.Verdict.String())
			}
		})
	}
}

func TestRunNoSecurityUpdatesListsNone(t *testing.T) {
	svc := &fakeService{ids: []string{"a;1.0"}, details: []packagekit.UpdateDetail{{PackageID: "a;1.0"}}}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Verdict.LongOutput, []string{"Security updates:", "(none)"}) {
		t.Fatalf("LongOutput = %q", res.Verdict.LongOutput)
	}
}

func TestRunApplySecurityOnly(t *testing.T) {
	svc := &fakeService{
		ids:     []string{"a;1.0", "b;2.0"},
		details: []packagekit.UpdateDetail{{PackageID: "a;1.0"}, securityDetail("b;2.0")},
	}
	confirm := &fakeConfirmer{answer: true}
	var announced []string
	opts := Options{
		Warning:       10,
		Critical:      20,
		ApplySecurity: true,
		Confirmer:     confirm,
		BeforeApply:   func(ids []string) { announced = ids },
	}
	res, err := NewRunner(svc, opts).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(announced, []string{"b;2.0"}) {
		t.Fatalf("BeforeApply got %v", announced)
	}
	if !reflect.DeepEqual(svc.appliedIDs, []string{"b;2.0"}) {
		t.Fatalf("applied %v, want only the security update", svc.appliedIDs)
	}
	if len(confirm.asked) != 1 || !reflect.DeepEqual(res.Applied, []string{"b;2.0"}) {
		t.Fatalf("confirm asked %v, applied %v", confirm.asked, res.Applied)
	}
}

func TestRunApplyAllNonInteractive(t *testing.T) {
	svc := &fakeService{
		ids:     []string{"a;1.0", "b;2.0"},
		details: []packagekit.UpdateDetail{{PackageID: "a;1.0"}, securityDetail("b;2.0")},
	}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20, ApplyAll: true, ApplySecurity: true, NonInteractive: true}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(svc.appliedIDs, []string{"a;1.0", "b;2.0"}) {
		t.Fatalf("applied %v, want all updates", svc.appliedIDs)
	}
	wantLong := []string{"Updates:", "a 1.0", "b 2.0 (SECURITY)"}
	if !reflect.DeepEqual(res.Verdict.LongOutput, wantLong) {
		t.Fatalf("LongOutput = %q, want %q", res.Verdict.LongOutput, wantLong)
	}
}

func TestRunDeclinedConfirmation(t *testing.T) {
	svc := &fakeService{ids: []string{"b;2.0"}, details: []packagekit.UpdateDetail{securityDetail("b;2.0")}}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20, ApplySecurity: true, Confirmer: &fakeConfirmer{}}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict.Status != health.Critical || res.Verdict.Message != "Cancelled by user" {
		t.Fatalf("verdict = %+v", res.Verdict)
	}
	if res.Verdict.Perfdata != nil {
		t.Fatal("cancelled verdict should carry no perfdata")
	}
	if !res.Declined {
		t.Fatal("Declined should be set")
	}
	for _, c := range svc.calls {
		if c == "apply" {
			t.Fatal("apply must not run after a declined confirmation")
		}
	}
}

func TestRunEmptyApplySetSkipsApplyAndConfirmation(t *testing.T) {
	svc := &fakeService{ids: []string{"a;1.0"}, details: []packagekit.UpdateDetail{{PackageID: "a;1.0"}}}
	confirm := &fakeConfirmer{}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20, ApplySecurity: true, Confirmer: confirm}).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict.Status != health.OK || len(res.Applied) != 0 {
		t.Fatalf("verdict %+v applied %v", res.Verdict, res.Applied)
	}
	if confirm.asked != nil {
		t.Fatal("confirmation should not be requested for an empty apply set")
	}
	if !reflect.DeepEqual(svc.calls, []string{"refresh", "updates", "details"}) {
		t.Fatalf("calls = %v", svc.calls)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &fakeService{}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict.Message != "Operation cancelled" || res.Verdict.Status != health.Critical {
		t.Fatalf("verdict = %+v", res.Verdict)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("no phase should run, got %v", svc.calls)
	}
}

func TestRunCancelledDuringRefresh(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := &fakeService{onRefresh: cancel}
	res, err := NewRunner(svc, Options{Warning: 10, Critical: 20}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.State != Cancelled || res.Verdict.Message != "Operation cancelled" {
		t.Fatalf("result = %+v", res)
	}
	if !reflect.DeepEqual(svc.calls, []string{"refresh"}) {
		t.Fatalf("calls = %v", svc.calls)
	}
}

func TestRunPhaseErrors(t *testing.T) {
	boom := errors.New("backend down")
	tests := []struct {
		name string
		svc  *fakeService
		want string
	}{
		{"refresh", &fakeService{refreshErr: boom}, "failed to refresh package cache"},
		{"updates", &fakeService{updatesErr: boom}, "failed to get updates"},
		{"details", &fakeService{ids: []string{"a;1"}, detailsErr: boom}, "failed to get update details"},
		{"apply", &fakeService{ids: []string{"a;1"}, details: []packagekit.UpdateDetail{securityDetail("a;1")}, applyErr: boom}, "failed to apply updates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.svc, Options{Warning: 10, Critical: 20, ApplySecurity: true, NonInteractive: true}).Run(context.Background())
			if !errors.Is(err, boom) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q wrapping %v", err, tt.want, boom)
			}
			v := health.FromError(err)
			if v.Status != health.Critical || !strings.HasPrefix(v.Message, "An error occurred: ") {
				t.Fatalf("verdict = %+v", v)
			}
		})
	}
}

func TestRunInteractiveWithoutConfirmerFails(t *testing.T) {
	svc := &fakeService{ids: []string{"b;2.0"}, details: []packagekit.UpdateDetail{securityDetail("b;2.0")}}
	if _, err := NewRunner(svc, Options{ApplySecurity: true}).Run(context.Background()); err == nil {
		t.Fatal("expected error without a confirmer")
	}
	if svc.appliedIDs != nil {
		t.Fatal("nothing should be applied")
	}
}

func TestStateString(t *testing.T) {
	if DetailFetching.String() != "detail-fetching" || State(42).String() != "state(42)" {
		t.Fatalf("unexpected state names %q %q", DetailFetching, State(42))
	}
}
