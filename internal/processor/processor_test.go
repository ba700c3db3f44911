package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
	"github.com/Hukum1020/shymkent-whatsapp/internal/render"
	"github.com/Hukum1020/shymkent-whatsapp/internal/store"
)

var header = []string{"Name", "Email", "Phone", "Language", "E", "F", "G", "H", "Status", "J"}

func guestRow(name, email, phone, lang, status string) []string {
	cells := make([]string, model.MinRowWidth)
	cells[model.ColName] = name
	cells[model.ColEmail] = email
	cells[model.ColPhone] = phone
	cells[model.ColLanguage] = lang
	cells[model.ColStatus] = status
	return cells
}

type sendCall struct {
	To       string
	MediaURL string
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	fail  map[string]bool
}

func (s *fakeSender) Send(_ context.Context, to, mediaURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{To: to, MediaURL: mediaURL})
	return !s.fail[to]
}

type fakeRasterizer struct{}

func (fakeRasterizer) Rasterize(_ context.Context, _, outPath string) error {
	return os.WriteFile(outPath, []byte("png"), 0644)
}

type panicGenerator struct {
	inner ArtifactGenerator
	email string
}

func (g panicGenerator) Generate(ctx context.Context, guest model.Guest) (render.Artifacts, error) {
	if guest.Email == g.email {
		panic("template engine exploded")
	}
	return g.inner.Generate(ctx, guest)
}

type fixture struct {
	dir    string
	store  *store.MemoryStore
	sender *fakeSender
	gen    *render.Generator
	proc   *Processor
	sleeps int
}

func newFixture(t *testing.T, rows ...[]string) *fixture {
	t.Helper()

	root := t.TempDir()
	templateDir := filepath.Join(root, "templates")
	require.NoError(t, os.MkdirAll(templateDir, 0755))
	for _, lang := range []string{"ru", "kz", "en"} {
		require.NoError(t, os.WriteFile(filepath.Join(templateDir, "shym"+lang+".html"),
			[]byte(`<html><body>{{.Name}}<img src="{{.QRCode}}"></body></html>`), 0644))
	}

	f := &fixture{
		dir:    filepath.Join(root, "qrcodes"),
		store:  store.NewMemoryStore(append([][]string{header}, rows...)),
		sender: &fakeSender{fail: map[string]bool{}},
	}
	f.gen = render.NewGenerator(f.dir, 128, render.Templates{Dir: templateDir, Pattern: "shym%s.html"}, fakeRasterizer{})
	f.proc = New(f.store, f.gen, f.sender, Options{
		PublicBaseURL: "https://yourdomain.kz",
		RowDelay:      time.Second,
		StoreTimeout:  time.Second,
		SendTimeout:   time.Second,
		RenderTimeout: time.Second,
	}, zap.NewNop())
	f.proc.sleep = func(context.Context, time.Duration) error {
		f.sleeps++
		return nil
	}
	return f
}

func (f *fixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func outcomes(report *CycleReport) []Outcome {
	result := make([]Outcome, 0, len(report.Rows))
	for _, r := range report.Rows {
		result = append(result, r.Outcome)
	}
	return result
}

func TestRunCycle_DeliversNewGuest(t *testing.T) {
	f := newFixture(t, guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""))

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.ID)

	assert.Equal(t, []Outcome{OutcomeDelivered}, outcomes(report))
	assert.ElementsMatch(t, []string{"ana_x.com.png", "ana_x.com_full.png"}, f.files(t))

	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, "whatsapp:+77001234567", f.sender.calls[0].To)
	assert.Equal(t, "https://yourdomain.kz/qrcodes/ana_x.com_full.png", f.sender.calls[0].MediaURL)

	assert.Equal(t, []store.StatusUpdate{{Row: 1, Value: "Done"}}, f.store.Updates())
	assert.Equal(t, 1, f.sleeps)
}

func TestRunCycle_DoneTransitionHappensOnce(t *testing.T) {
	f := newFixture(t, guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""))

	_, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeDone}, outcomes(report))
	assert.Len(t, f.sender.calls, 1)
	assert.Len(t, f.store.Updates(), 1)
}

func TestRunCycle_DoneRowsHaveNoSideEffects(t *testing.T) {
	f := newFixture(t,
		guestRow("Ana", "ana@x.com", "+77001234567", "ru", "Done"),
		guestRow("Bob", "bob@x.com", "+77001234568", "ru", " done "),
	)

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeDone, OutcomeDone}, outcomes(report))
	assert.Empty(t, f.files(t))
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.store.Updates())
	assert.Zero(t, f.sleeps)
}

func TestRunCycle_IncompleteRowsSkippedRegardlessOfStatus(t *testing.T) {
	f := newFixture(t,
		guestRow("", "ana@x.com", "+77001234567", "ru", ""),
		guestRow("Bob", "", "+77001234568", "ru", ""),
		guestRow("Cid", "cid@x.com", "", "ru", "Done"),
		guestRow("Dan", "dan@x.com", "", "ru", "pending"),
	)

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Outcome{OutcomeIncomplete, OutcomeIncomplete, OutcomeIncomplete, OutcomeIncomplete}, outcomes(report))
	assert.Empty(t, f.files(t))
	assert.Empty(t, f.sender.calls)
	assert.Empty(t, f.store.Updates())
}

func TestRunCycle_SendFailureLeavesRowEligible(t *testing.T) {
	f := newFixture(t, guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""))
	f.sender.fail["whatsapp:+77001234567"] = true

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeSendFailed}, outcomes(report))
	assert.Empty(t, f.store.Updates())
	assert.Equal(t, "", f.store.Row(1)[model.ColStatus])

	// 下一轮重试并成功
	f.sender.fail = map[string]bool{}
	report, err = f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeDelivered}, outcomes(report))
	assert.Len(t, f.sender.calls, 2)
}

func TestRunCycle_MalformedRowDoesNotStopLaterRows(t *testing.T) {
	f := newFixture(t,
		[]string{"Broken", "broken@x.com", "+7"},
		guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""),
	)

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, []Outcome{OutcomeMalformed, OutcomeDelivered}, outcomes(report))
	assert.ErrorIs(t, report.Rows[0].Err, model.ErrMalformedRow)
	assert.ElementsMatch(t, []string{"ana_x.com.png", "ana_x.com_full.png"}, f.files(t))
	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, "whatsapp:+77001234567", f.sender.calls[0].To)
}

func TestRunCycle_MissingTemplateIsRowScoped(t *testing.T) {
	f := newFixture(t,
		guestRow("Ana", "ana@x.com", "+77001234567", "de", ""),
		guestRow("Bob", "bob@x.com", "+77001234568", "KZ", ""),
	)

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, []Outcome{OutcomeFailed, OutcomeDelivered}, outcomes(report))
	assert.ErrorIs(t, report.Rows[0].Err, render.ErrTemplateNotFound)
	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, "whatsapp:+77001234568", f.sender.calls[0].To)
	assert.Equal(t, []store.StatusUpdate{{Row: 2, Value: "Done"}}, f.store.Updates())
}

func TestRunCycle_PanicIsRowScoped(t *testing.T) {
	f := newFixture(t,
		guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""),
		guestRow("Bob", "bob@x.com", "+77001234568", "ru", ""),
	)
	f.proc.generator = panicGenerator{inner: f.gen, email: "ana@x.com"}

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)

	require.Equal(t, []Outcome{OutcomeFailed, OutcomeDelivered}, outcomes(report))
	assert.Contains(t, report.Rows[0].Err.Error(), "template engine exploded")
	assert.Len(t, f.sender.calls, 1)
}

func TestRunCycle_MarkFailureIsReportedAndResendsNextCycle(t *testing.T) {
	f := newFixture(t, guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""))
	f.store.UpdateErr = func(int) error { return errors.New("quota exceeded") }

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeMarkFailed}, outcomes(report))

	// 状态未写入，下一轮再次发送（已知的重复发送风险）
	report, err = f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeMarkFailed}, outcomes(report))
	assert.Len(t, f.sender.calls, 2)
}

func TestRunCycle_FetchFailureAbortsCycle(t *testing.T) {
	f := newFixture(t, guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""))
	boom := errors.New("invalid_grant")
	f.store.FetchErr = boom

	report, err := f.proc.RunCycle(context.Background())
	require.ErrorIs(t, err, boom)
	require.NotNil(t, report)
	assert.Empty(t, report.Rows)
	assert.Empty(t, f.sender.calls)
}

func TestRunCycle_HeaderOnly(t *testing.T) {
	f := newFixture(t)

	report, err := f.proc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
	assert.Empty(t, report.Counts())
}

func TestRunCycle_CancelledDuringDelay(t *testing.T) {
	f := newFixture(t,
		guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""),
		guestRow("Bob", "bob@x.com", "+77001234568", "ru", ""),
	)
	ctx, cancel := context.WithCancel(context.Background())
	f.proc.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	report, err := f.proc.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []Outcome{OutcomeDelivered}, outcomes(report))
}

// cancelOnSend 在消息被接受的同时触发停机
type cancelOnSend struct {
	fakeSender
	cancel context.CancelFunc
}

func (s *cancelOnSend) Send(ctx context.Context, to, mediaURL string) bool {
	ok := s.fakeSender.Send(ctx, to, mediaURL)
	s.cancel()
	return ok
}

func TestRunCycle_ShutdownDuringSendStillMarksDone(t *testing.T) {
	f := newFixture(t,
		guestRow("Ana", "ana@x.com", "+77001234567", "ru", ""),
		guestRow("Bob", "bob@x.com", "+77001234568", "ru", ""),
	)
	ctx, cancel := context.WithCancel(context.Background())
	sender := &cancelOnSend{fakeSender: fakeSender{fail: map[string]bool{}}, cancel: cancel}
	f.proc.sender = sender
	f.proc.sleep = sleepContext

	report, err := f.proc.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []Outcome{OutcomeDelivered}, outcomes(report))
	assert.Equal(t, []store.StatusUpdate{{Row: 1, Value: "Done"}}, f.store.Updates())
	assert.Len(t, sender.calls, 1)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
