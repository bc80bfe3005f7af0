package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/pixivpush/internal/model"
	"github.com/hitoshi/pixivpush/internal/pixiv"
)

// --- モック定義 ---

// mockAPI はpixiv.APIのテスト用モック。
type mockAPI struct {
	userDetailFunc     func(ctx context.Context, userID int64) (*model.Creator, error)
	userWorksFunc      func(ctx context.Context, userID int64) (*pixiv.UserWorks, error)
	followFeedFunc     func(ctx context.Context) ([]model.Work, error)
	workDetailFunc     func(ctx context.Context, workID int64) (*model.Work, error)
	rankingFunc        func(ctx context.Context, mode model.RankingMode) ([]model.Work, error)
	ugoiraMetadataFunc func(ctx context.Context, workID int64) (*pixiv.UgoiraMetadata, error)
}

func (m *mockAPI) UserDetail(ctx context.Context, userID int64) (*model.Creator, error) {
	if m.userDetailFunc != nil {
		return m.userDetailFunc(ctx, userID)
	}
	return nil, nil
}

func (m *mockAPI) UserWorks(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
	if m.userWorksFunc != nil {
		return m.userWorksFunc(ctx, userID)
	}
	return &pixiv.UserWorks{}, nil
}

func (m *mockAPI) FollowFeed(ctx context.Context) ([]model.Work, error) {
	if m.followFeedFunc != nil {
		return m.followFeedFunc(ctx)
	}
	return nil, nil
}

func (m *mockAPI) WorkDetail(ctx context.Context, workID int64) (*model.Work, error) {
	if m.workDetailFunc != nil {
		return m.workDetailFunc(ctx, workID)
	}
	return nil, nil
}

func (m *mockAPI) Ranking(ctx context.Context, mode model.RankingMode) ([]model.Work, error) {
	if m.rankingFunc != nil {
		return m.rankingFunc(ctx, mode)
	}
	return nil, nil
}

func (m *mockAPI) UgoiraMetadata(ctx context.Context, workID int64) (*pixiv.UgoiraMetadata, error) {
	if m.ugoiraMetadataFunc != nil {
		return m.ugoiraMetadataFunc(ctx, workID)
	}
	return nil, nil
}

// delivery は1回の配信呼び出しの記録。
type delivery struct {
	artist string
	works  []model.Work
	groups []string
}

// mockDeliverer はDelivererのテスト用モック。
type mockDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	deliverFn  func(ctx context.Context)
}

func (m *mockDeliverer) Deliver(ctx context.Context, artistName string, works []model.Work, groupIDs []string) {
	if m.deliverFn != nil {
		m.deliverFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, delivery{artist: artistName, works: works, groups: groupIDs})
}

func (m *mockDeliverer) all() []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]delivery(nil), m.deliveries...)
}

// mockSnapshots はSnapshotSourceのテスト用モック。
type mockSnapshots struct {
	snapshot map[string]model.GroupPolicy
}

func (m *mockSnapshots) Snapshot() map[string]model.GroupPolicy {
	return m.snapshot
}

// mockCollector はMetricsCollectorのテスト用モック。
type mockCollector struct {
	mu              sync.Mutex
	cycles          int
	cyclesSkipped   int
	creatorsChecked int
	creatorErrors   int
}

func (m *mockCollector) RecordCycle(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *mockCollector) RecordCycleSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cyclesSkipped++
}

func (m *mockCollector) RecordCreatorChecked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creatorsChecked++
}

func (m *mockCollector) RecordCreatorError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creatorErrors++
}

func (m *mockCollector) RecordWorksDelivered(int) {}
func (m *mockCollector) RecordDeliveryFailure()   {}
func (m *mockCollector) RecordBundledSend()       {}
func (m *mockCollector) RecordSequentialSend()    {}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- テストヘルパー ---

var testEpoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func policyWithArtists(ids ...int64) model.GroupPolicy {
	p := model.DefaultGroupPolicy()
	p.Artists = ids
	return *p
}

func workAt(id, creatorID int64, createdAt time.Time) model.Work {
	return model.Work{
		ID:        id,
		Title:     "作品",
		CreatedAt: createdAt,
		User:      model.Creator{ID: creatorID, Name: "絵師A"},
	}
}

func newTestEngine(api pixiv.API, snapshots SnapshotSource, d Deliverer, collector *mockCollector, cfg Config) *Engine {
	var buf bytes.Buffer
	if cfg.CreatorDelay == 0 {
		cfg.CreatorDelay = time.Microsecond
	}
	e := NewEngine(api, snapshots, d, collector, newTestLogger(&buf), cfg)
	e.lastCheck = testEpoch
	return e
}

// --- CreatorIndexのテスト ---

func TestCreatorIndex_TargetsUnionWithoutDuplicates(t *testing.T) {
	follow := model.DefaultGroupPolicy()
	follow.PushFollowingEnabled = true
	follow.Artists = []int64{42}

	snapshot := map[string]model.GroupPolicy{
		"g1": *follow,
		"g2": policyWithArtists(42),
	}
	idx := NewCreatorIndex(snapshot)

	got := idx.Targets(42)
	want := []string{"g1", "g2"}
	if len(got) != len(want) {
		t.Fatalf("Targets(42) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Targets(42) = %v, want %v", got, want)
		}
	}
}

func TestCreatorIndex_RemoveClaimsCreator(t *testing.T) {
	idx := NewCreatorIndex(map[string]model.GroupPolicy{
		"g1": policyWithArtists(42, 43),
	})

	idx.Remove(42)

	creators := idx.Creators()
	if len(creators) != 1 || creators[0] != 43 {
		t.Errorf("Creators() = %v, want [43]", creators)
	}
	if got := idx.Groups(42); len(got) != 0 {
		t.Errorf("Groups(42) = %v, want 空", got)
	}
}

// --- RunCycleのテスト ---

func TestEngine_RunCycle_DeliversFreshWorks(t *testing.T) {
	fresh := workAt(900, 42, testEpoch.Add(time.Minute))

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{
				User:  model.Creator{ID: 42, Name: "絵師A"},
				Works: []model.Work{fresh},
			}, nil
		},
	}
	d := &mockDeliverer{}
	collector := &mockCollector{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, collector, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1", len(deliveries))
	}
	if deliveries[0].artist != "絵師A" {
		t.Errorf("artist = %q, want 絵師A", deliveries[0].artist)
	}
	if len(deliveries[0].works) != 1 || deliveries[0].works[0].ID != 900 {
		t.Errorf("works = %+v", deliveries[0].works)
	}
	if len(deliveries[0].groups) != 1 || deliveries[0].groups[0] != "g1" {
		t.Errorf("groups = %v, want [g1]", deliveries[0].groups)
	}
	if collector.cycles != 1 {
		t.Errorf("記録されたサイクル数 = %d, want 1", collector.cycles)
	}
}

func TestEngine_RunCycle_FirstCycleCoversFullInterval(t *testing.T) {
	// 生成直後の窓はチェック間隔いっぱいの幅を持つ。起動直後の
	// 手動実行でも間隔内の新着作品は配信される
	works := []model.Work{
		workAt(901, 42, time.Now().Add(-time.Hour)),   // 間隔内
		workAt(900, 42, time.Now().Add(-4*time.Hour)), // 間隔外
	}

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{
				User:  model.Creator{ID: 42, Name: "絵師A"},
				Works: works,
			}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	var buf bytes.Buffer
	e := NewEngine(api, snapshots, d, &mockCollector{}, newTestLogger(&buf), Config{
		CheckInterval: 3 * time.Hour,
		CreatorDelay:  time.Microsecond,
	})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1（1時間前の作品は間隔3時間の窓内）", len(deliveries))
	}
	if len(deliveries[0].works) != 1 || deliveries[0].works[0].ID != 901 {
		t.Errorf("works = %+v, want 作品901のみ", deliveries[0].works)
	}
}

func TestEngine_RunCycle_NoFreshWorksNoDelivery(t *testing.T) {
	// 窓より古い作品しかない場合は配信しない
	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{
				User:  model.Creator{ID: 42},
				Works: []model.Work{workAt(900, 42, testEpoch.Add(-time.Hour))},
			}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}
	if len(d.all()) != 0 {
		t.Errorf("配信回数 = %d, want 0", len(d.all()))
	}
}

func TestEngine_RunCycle_EarlyExitOnOldWork(t *testing.T) {
	// 一覧は新しい順。窓の起点以前の作品に達したら以降は走査しない
	works := []model.Work{
		workAt(903, 42, testEpoch.Add(3*time.Minute)),
		workAt(902, 42, testEpoch.Add(-time.Minute)),
		// 早期打ち切りが正しければここには到達しない
		workAt(901, 42, testEpoch.Add(2*time.Minute)),
	}

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{User: model.Creator{ID: 42}, Works: works}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1", len(deliveries))
	}
	if len(deliveries[0].works) != 1 || deliveries[0].works[0].ID != 903 {
		t.Errorf("works = %+v, want 作品903のみ", deliveries[0].works)
	}
}

func TestEngine_RunCycle_ZeroCreatedAtSkippedWithoutBreak(t *testing.T) {
	// 投稿時刻不明の作品はスキップするが、走査の打ち切りはしない
	works := []model.Work{
		workAt(903, 42, time.Time{}),
		workAt(902, 42, testEpoch.Add(time.Minute)),
	}

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{User: model.Creator{ID: 42}, Works: works}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 || deliveries[0].works[0].ID != 902 {
		t.Errorf("deliveries = %+v, want 作品902のみ", deliveries)
	}
}

func TestEngine_RunCycle_CreatorErrorIsolation(t *testing.T) {
	// 1絵師の取得失敗は他の絵師の処理に影響しない
	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			if userID == 42 {
				return nil, errors.New("api failure")
			}
			return &pixiv.UserWorks{
				User:  model.Creator{ID: userID, Name: "絵師B"},
				Works: []model.Work{workAt(900, userID, testEpoch.Add(time.Minute))},
			}, nil
		},
	}
	d := &mockDeliverer{}
	collector := &mockCollector{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42, 43),
	}}

	e := newTestEngine(api, snapshots, d, collector, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 || deliveries[0].works[0].User.ID != 43 {
		t.Errorf("deliveries = %+v, want 絵師43の作品のみ", deliveries)
	}
	if collector.creatorsChecked != 2 {
		t.Errorf("チェックした絵師数 = %d, want 2", collector.creatorsChecked)
	}
	if collector.creatorErrors != 1 {
		t.Errorf("絵師エラー数 = %d, want 1", collector.creatorErrors)
	}
}

func TestEngine_RunCycle_OverlapSkipped(t *testing.T) {
	// 実行中のサイクルがある間、新しいサイクルはスキップされる
	started := make(chan struct{})
	release := make(chan struct{})

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{
				User:  model.Creator{ID: userID},
				Works: []model.Work{workAt(900, userID, testEpoch.Add(time.Minute))},
			}, nil
		},
	}
	d := &mockDeliverer{
		deliverFn: func(ctx context.Context) {
			close(started)
			<-release
		},
	}
	collector := &mockCollector{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, collector, Config{})

	done := make(chan error, 1)
	go func() {
		done <- e.RunCycle(context.Background())
	}()

	<-started
	err := e.RunCycle(context.Background())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeCycleInProgress {
		t.Errorf("重複実行のエラー = %v, want CYCLE_IN_PROGRESS", err)
	}
	if collector.cyclesSkipped != 1 {
		t.Errorf("スキップされたサイクル数 = %d, want 1", collector.cyclesSkipped)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("最初のRunCycle() がエラーを返した: %v", err)
	}

	// 完了後は再び実行できる
	if err := e.RunCycle(context.Background()); err != nil {
		t.Errorf("完了後のRunCycle() がエラーを返した: %v", err)
	}
}

func TestEngine_RunCycle_WindowAdvances(t *testing.T) {
	// 一度配信した作品は次のサイクルでは窓の外になる
	works := []model.Work{workAt(900, 42, testEpoch.Add(time.Minute))}

	api := &mockAPI{
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{User: model.Creator{ID: 42}, Works: works}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := len(d.all()); got != 1 {
		t.Errorf("配信回数 = %d, want 1（二重配信なし）", got)
	}
}

// --- フォロー新着経路のテスト ---

func TestEngine_RunCycle_FollowFeedClaimAndRemove(t *testing.T) {
	// フォロー新着で処理した絵師は絵師ごとの走査から除外される
	var userWorksCalls []int64
	var mu sync.Mutex

	api := &mockAPI{
		followFeedFunc: func(ctx context.Context) ([]model.Work, error) {
			return []model.Work{workAt(900, 42, testEpoch.Add(time.Minute))}, nil
		},
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			mu.Lock()
			userWorksCalls = append(userWorksCalls, userID)
			mu.Unlock()
			return &pixiv.UserWorks{User: model.Creator{ID: userID}}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
		"g2": policyWithArtists(43),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{EnableFollowFeed: true})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}

	// 絵師42はフィードで処理済みのため、一覧取得は絵師43のみ
	if len(userWorksCalls) != 1 || userWorksCalls[0] != 43 {
		t.Errorf("UserWorks呼び出し = %v, want [43]", userWorksCalls)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1", len(deliveries))
	}
	if deliveries[0].works[0].ID != 900 {
		t.Errorf("works = %+v", deliveries[0].works)
	}
}

func TestEngine_RunCycle_FollowFeedDeliversToFollowGroups(t *testing.T) {
	// 配信先は購読グループとフォロー新着受信グループの和集合
	follow := model.DefaultGroupPolicy()
	follow.PushFollowingEnabled = true

	api := &mockAPI{
		followFeedFunc: func(ctx context.Context) ([]model.Work, error) {
			return []model.Work{workAt(900, 42, testEpoch.Add(time.Minute))}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
		"g2": *follow,
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{EnableFollowFeed: true})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1", len(deliveries))
	}
	groups := deliveries[0].groups
	if len(groups) != 2 || groups[0] != "g1" || groups[1] != "g2" {
		t.Errorf("groups = %v, want [g1 g2]", groups)
	}
}

func TestEngine_RunCycle_FollowFeedFiltersWindowPerItem(t *testing.T) {
	// フィードの並び順は保証されないため、早期打ち切りせず全件を窓で判定する
	api := &mockAPI{
		followFeedFunc: func(ctx context.Context) ([]model.Work, error) {
			return []model.Work{
				workAt(901, 42, testEpoch.Add(-time.Hour)),     // 古い
				workAt(902, 42, testEpoch.Add(2*time.Minute)),  // 新着
				workAt(903, 42, testEpoch.Add(-2*time.Minute)), // 古い
				workAt(904, 42, testEpoch.Add(time.Minute)),    // 新着
			}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{EnableFollowFeed: true})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	deliveries := d.all()
	if len(deliveries) != 1 {
		t.Fatalf("配信回数 = %d, want 1", len(deliveries))
	}
	ids := []int64{}
	for _, w := range deliveries[0].works {
		ids = append(ids, w.ID)
	}
	if len(ids) != 2 || ids[0] != 902 || ids[1] != 904 {
		t.Errorf("配信された作品ID = %v, want [902 904]", ids)
	}
}

func TestEngine_RunCycle_FollowFeedErrorFallsBackToPerCreator(t *testing.T) {
	// フィード取得に失敗しても絵師ごとの走査は継続する
	api := &mockAPI{
		followFeedFunc: func(ctx context.Context) ([]model.Work, error) {
			return nil, errors.New("feed failure")
		},
		userWorksFunc: func(ctx context.Context, userID int64) (*pixiv.UserWorks, error) {
			return &pixiv.UserWorks{
				User:  model.Creator{ID: userID},
				Works: []model.Work{workAt(900, userID, testEpoch.Add(time.Minute))},
			}, nil
		},
	}
	d := &mockDeliverer{}
	snapshots := &mockSnapshots{snapshot: map[string]model.GroupPolicy{
		"g1": policyWithArtists(42),
	}}

	e := newTestEngine(api, snapshots, d, &mockCollector{}, Config{EnableFollowFeed: true})

	if err := e.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() がエラーを返した: %v", err)
	}
	if len(d.all()) != 1 {
		t.Errorf("配信回数 = %d, want 1", len(d.all()))
	}
}
