package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"collabCore/backend/internal/ot"
	"collabCore/backend/internal/policy"
)

// 协作引擎接口
type Service interface {
	Join(ctx context.Context, docID string, userID uint64, sessionID string, caps policy.Policy) (CollaborationState, error)
	Leave(ctx context.Context, docID, sessionID string) error
	Heartbeat(ctx context.Context, docID, sessionID string, syncedVersion uint64) ([]Participant, error)

	Submit(ctx context.Context, docID, sessionID string, clientSeq uint64, op ot.Operation) (AcceptedOp, error)
	OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]AcceptedOp, error)
	State(ctx context.Context, docID string) (CollaborationState, error)

	UpdateCursor(ctx context.Context, docID, sessionID string, cursor json.RawMessage, visible bool) error
	UpdateSelection(ctx context.Context, docID, sessionID string, sel json.RawMessage, visible bool) error

	CreateVersion(ctx context.Context, docID, sessionID, message string, tags []string) (VersionSnapshot, error)
	RestoreVersion(ctx context.Context, docID, versionID, sessionID string) (uint64, error)
	ListVersions(ctx context.Context, docID string) ([]VersionSnapshot, error)

	AddComment(ctx context.Context, docID, sessionID string, req CommentRequest) (Comment, error)
	SetThreadStatus(ctx context.Context, docID, sessionID, rootCommentID string, status ThreadStatus) error

	ArchiveDocument(ctx context.Context, docID, sessionID string) error
}

// 快照存储接口（实现在 store 中）
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap VersionSnapshot) error
	LatestSnapshot(ctx context.Context, docID string) (VersionSnapshot, error)
	ListSnapshots(ctx context.Context, docID string) ([]VersionSnapshot, error)
}

// 评论存储接口
type CommentStore interface {
	SaveComment(ctx context.Context, docID string, c Comment) error
	UpdateThreadStatus(ctx context.Context, docID, rootCommentID string, status ThreadStatus) error
}

// DocumentRegistry 文档台账（持久层实现）
type DocumentRegistry interface {
	EnsureDocument(ctx context.Context, docID string, ownerID uint64) error
	SetArchived(ctx context.Context, docID string, archived bool) error
}

// PresenceMirror 在场状态的外部镜像（redis 实现）。
// 进程内的 session 表是状态机的权威，镜像用于重连恢复与跨进程可见。
type PresenceMirror interface {
	Touch(ctx context.Context, docID, sessionID string, userID uint64, ttl time.Duration) error
	Remove(ctx context.Context, docID, sessionID string) error
	SetCursor(ctx context.Context, docID, sessionID string, data []byte, ttl time.Duration) error
	ClearCursor(ctx context.Context, docID, sessionID string) error
}

// Broadcaster 广播能力。实现（ws.Hub）负责逐连接投递；
// 任何一个接收方失败都不允许反过来影响已提交的操作。
type Broadcaster interface {
	BroadcastOperation(docID string, op AcceptedOp, excludeSessionID string)
	BroadcastPresence(docID, eventType string, p Participant, excludeSessionID string)
	BroadcastComment(docID, eventType string, t Thread, excludeSessionID string)
	BroadcastRestore(docID, versionID string, version uint64, restoredBy uint64)
}

var (
	ErrAuthenticationRequired = errors.New("AUTHENTICATION_REQUIRED")
	ErrAccessDenied           = errors.New("ACCESS_DENIED")
	ErrDocumentNotFound       = errors.New("DOCUMENT_NOT_FOUND")
	ErrDocumentArchived       = errors.New("DOCUMENT_ARCHIVED")
	ErrStaleBase              = errors.New("STALE_BASE")
	ErrVersionNotFound        = errors.New("VERSION_NOT_FOUND")
	ErrRestoreBlocked         = errors.New("RESTORE_BLOCKED")
	ErrThreadNotFound         = errors.New("THREAD_NOT_FOUND")
	ErrDuplicateOrOutOfOrder  = errors.New("DUPLICATE_OR_OUT_OF_ORDER")
	ErrDocumentActive         = errors.New("DOCUMENT_ACTIVE")
)

// CollaborationState join/重连时下发的文档状态
type CollaborationState struct {
	DocumentID        string        `json:"documentId"`
	Version           uint64        `json:"version"`
	Content           string        `json:"content"`
	Spans             []AttrSpan    `json:"spans,omitempty"`
	Participants      []Participant `json:"participants"`
	Threads           []Thread      `json:"threads"`
	LastSaved         time.Time     `json:"lastSaved"`
	HasUnsavedChanges bool          `json:"hasUnsavedChanges"`
}

// docState 单文档状态。mu 就是该文档的定序器：
// append / restore / 线程状态变更全部串行通过它，
// 不同文档之间完全并行。
type docState struct {
	mu    sync.RWMutex
	docID string

	log *OpLog
	buf *PieceTable

	sessions map[string]*Session
	threads  map[string]*Thread
	// append-only 快照列表，按创建顺序
	snapshots []VersionSnapshot

	// 去重窗口：记录某会话最近的最大 clientSeq（FIFO per session）
	lastSeqByClient map[string]uint64
	// 已接受操作 ID -> 版本；压缩后仍可识别重复投递
	appliedIDs map[string]uint64

	lastSaved time.Time
	dirty     bool
	archived  bool
}

type Options struct {
	IdleAfter   time.Duration // 无活动多久转 idle
	LeaveAfter  time.Duration // 无活动多久判定离开
	PresenceTTL time.Duration // redis 镜像的心跳 TTL
}

func (o *Options) fill() {
	if o.IdleAfter <= 0 {
		o.IdleAfter = 30 * time.Second
	}
	if o.LeaveAfter <= 0 {
		o.LeaveAfter = 5 * time.Minute
	}
	if o.PresenceTTL <= 0 {
		o.PresenceTTL = 600 * time.Second
	}
}

// 内存实现：持有所有文档的状态。
// 进程全局状态收敛在这个可注入的对象里，测试可各起各的实例。
type InMemoryService struct {
	mu   sync.RWMutex
	docs map[string]*docState

	// 首次加载文档时从快照热身，singleflight 合并并发加载
	hydrate singleflight.Group

	// 依赖注入，只声明接口；nil 表示该路关闭
	snapshots SnapshotStore
	comments  CommentStore
	registry  DocumentRegistry
	events    EventSink
	mirror    PresenceMirror
	caster    Broadcaster

	opt Options
}

func NewInMemoryService(snapshots SnapshotStore, comments CommentStore, registry DocumentRegistry, events EventSink, mirror PresenceMirror, caster Broadcaster, opt Options) *InMemoryService {
	opt.fill()
	return &InMemoryService{
		docs:      make(map[string]*docState),
		snapshots: snapshots,
		comments:  comments,
		registry:  registry,
		events:    events,
		mirror:    mirror,
		caster:    caster,
		opt:       opt,
	}
}

// 获取或创建指定文档的状态；首次创建时尝试从最新快照热身
func (s *InMemoryService) getOrCreateDoc(ctx context.Context, docID string) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds != nil {
		return ds, nil
	}

	v, err, _ := s.hydrate.Do(docID, func() (interface{}, error) {
		s.mu.Lock()
		if exist := s.docs[docID]; exist != nil {
			s.mu.Unlock()
			return exist, nil
		}
		s.mu.Unlock()

		ds := &docState{
			docID:           docID,
			log:             NewOpLog(),
			buf:             NewPieceTable(""),
			sessions:        make(map[string]*Session),
			threads:         make(map[string]*Thread),
			lastSeqByClient: make(map[string]uint64),
			appliedIDs:      make(map[string]uint64),
		}
		if s.snapshots != nil {
			snap, err := s.snapshots.LatestSnapshot(ctx, docID)
			switch {
			case err == nil:
				if !snap.Verify() {
					log.Printf("snapshot checksum mismatch doc=%s snap=%s, starting empty", docID, snap.ID)
				} else {
					ds.buf = NewPieceTable(snap.Content)
					ds.buf.spans = append([]AttrSpan(nil), snap.Spans...)
					ds.log.Reset(snap.Version)
					ds.snapshots = append(ds.snapshots, snap)
					ds.lastSaved = snap.CreatedAt
				}
			case errors.Is(err, ErrVersionNotFound):
				// 新文档
			default:
				return nil, err
			}
		}

		s.mu.Lock()
		s.docs[docID] = ds
		s.mu.Unlock()
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*docState), nil
}

// 仅获取已存在的文档
func (s *InMemoryService) getDoc(docID string) (*docState, error) {
	s.mu.RLock()
	ds := s.docs[docID]
	s.mu.RUnlock()
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	return ds, nil
}

func (s *InMemoryService) Join(ctx context.Context, docID string, userID uint64, sessionID string, caps policy.Policy) (CollaborationState, error) {
	if sessionID == "" || userID == 0 {
		return CollaborationState{}, ErrAuthenticationRequired
	}
	ds, err := s.getOrCreateDoc(ctx, docID)
	if err != nil {
		return CollaborationState{}, err
	}

	now := time.Now()
	ds.mu.Lock()
	if ds.archived {
		ds.mu.Unlock()
		return CollaborationState{}, ErrDocumentArchived
	}
	sess := &Session{
		UserID:        userID,
		SessionID:     sessionID,
		JoinedAt:      now,
		LastActivity:  now,
		Status:        StatusJoining,
		SyncedVersion: ds.log.Version(),
		caps:          caps,
	}
	ds.sessions[sessionID] = sess
	state := ds.stateLocked()
	p := sess.participant()
	ds.mu.Unlock()

	if s.registry != nil {
		if err := s.registry.EnsureDocument(ctx, docID, userID); err != nil {
			log.Printf("document registry upsert failed doc=%s err=%v", docID, err)
		}
	}
	if s.mirror != nil {
		if err := s.mirror.Touch(ctx, docID, sessionID, userID, s.opt.PresenceTTL); err != nil {
			log.Printf("presence touch failed doc=%s session=%s err=%v", docID, sessionID, err)
		}
	}
	if s.caster != nil {
		s.caster.BroadcastPresence(docID, "participant-joined", p, sessionID)
	}
	s.record(ctx, ActivityEvent{EventType: EventParticipantJoin, DocID: docID, ActorID: userID, SessionID: sessionID, At: now})
	return state, nil
}

func (s *InMemoryService) Leave(ctx context.Context, docID, sessionID string) error {
	ds, err := s.getDoc(docID)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return nil
	}
	delete(ds.sessions, sessionID)
	sess.Status = StatusLeft
	// 离开即移除光标/选区，不留墓碑
	sess.Cursor = nil
	sess.Selection = nil
	p := sess.participant()
	ds.mu.Unlock()

	s.dropPresence(ctx, docID, sessionID)
	if s.caster != nil {
		s.caster.BroadcastPresence(docID, "participant-left", p, sessionID)
	}
	s.record(ctx, ActivityEvent{EventType: EventParticipantLeft, DocID: docID, ActorID: p.UserID, SessionID: sessionID, At: time.Now()})
	return nil
}

func (s *InMemoryService) Heartbeat(ctx context.Context, docID, sessionID string, syncedVersion uint64) ([]Participant, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return nil, ErrAuthenticationRequired
	}
	sess.touch(now)
	if syncedVersion > sess.SyncedVersion {
		sess.SyncedVersion = syncedVersion
	}
	out := ds.participantsLocked()
	userID := sess.UserID
	ds.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Touch(ctx, docID, sessionID, userID, s.opt.PresenceTTL); err != nil {
			log.Printf("presence touch failed doc=%s session=%s err=%v", docID, sessionID, err)
		}
	}
	return out, nil
}

// Submit 提交一条以 baseVersion 为基的操作：
// 对 baseVersion 之后的日志后缀做变换，入库并推进版本，然后异步扇出。
// 操作一旦追加即视为持久，扇出不影响其结果。
func (s *InMemoryService) Submit(ctx context.Context, docID, sessionID string, clientSeq uint64, op ot.Operation) (AcceptedOp, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return AcceptedOp{}, err
	}

	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return AcceptedOp{}, ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionWrite) {
		ds.mu.Unlock()
		return AcceptedOp{}, ErrAccessDenied
	}
	if ds.archived {
		ds.mu.Unlock()
		return AcceptedOp{}, ErrDocumentArchived
	}

	// 幂等：重复投递同一操作 ID 不改变任何状态
	if ver, ok := ds.appliedIDs[op.ID]; ok {
		if prev, found := ds.log.Lookup(op.ID); found {
			ds.mu.Unlock()
			return prev, nil
		}
		ds.mu.Unlock()
		// 已压缩：只能还原出版本号
		return AcceptedOp{OperationID: op.ID, Version: ver, SessionID: sessionID}, nil
	}

	// FIFO per session：乱序/回放的序号直接拒绝
	if clientSeq != 0 {
		if last := ds.lastSeqByClient[sessionID]; clientSeq <= last {
			ds.mu.Unlock()
			return AcceptedOp{}, ErrDuplicateOrOutOfOrder
		}
	}

	if op.Meta.BaseVersion > ds.log.Version() {
		ds.mu.Unlock()
		return AcceptedOp{}, ot.ErrMalformedOperation
	}

	suffix, err := ds.log.SliceSince(op.Meta.BaseVersion)
	if err != nil {
		ds.mu.Unlock()
		return AcceptedOp{}, err
	}

	if err := ot.CheckDependencies(op, func(id string) bool {
		_, ok := ds.appliedIDs[id]
		return ok
	}); err != nil {
		ds.mu.Unlock()
		return AcceptedOp{}, err
	}

	var committed []ot.Operation
	for _, e := range suffix {
		committed = append(committed, e.Ops...)
	}

	transformed, err := ot.Transform(op, committed, ds.buf.Len())
	if err != nil {
		// 变换失败只拒绝该操作，已提交状态不受影响
		ds.mu.Unlock()
		return AcceptedOp{}, err
	}

	for _, seg := range transformed {
		if err := ds.buf.Apply(seg); err != nil {
			ds.mu.Unlock()
			return AcceptedOp{}, err
		}
	}

	now := time.Now()
	opID := op.ID
	if opID == "" {
		opID = uuid.NewString()
	}
	accepted := AcceptedOp{
		OperationID: opID,
		AuthorID:    sess.UserID,
		SessionID:   sessionID,
		Ops:         transformed,
		AppliedAt:   now,
	}
	version := ds.log.Append(accepted)
	accepted.Version = version

	ds.appliedIDs[opID] = version
	if clientSeq != 0 {
		ds.lastSeqByClient[sessionID] = clientSeq
	}
	ds.dirty = true
	sess.touch(now)
	sess.Status = StatusTyping
	sess.SyncedVersion = version
	ds.mu.Unlock()

	// 扇出 / 审计均为 fire-and-forget
	if s.caster != nil {
		s.caster.BroadcastOperation(docID, accepted, sessionID)
	}
	s.record(ctx, ActivityEvent{
		EventType:   EventOpApplied,
		DocID:       docID,
		ActorID:     accepted.AuthorID,
		SessionID:   sessionID,
		OperationID: opID,
		Version:     version,
		At:          now,
	})
	return accepted, nil
}

// OpsSince 重连会话追平用
func (s *InMemoryService) OpsSince(ctx context.Context, docID string, fromVersion uint64, limit int) ([]AcceptedOp, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out, err := ds.log.SliceSince(fromVersion)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryService) State(ctx context.Context, docID string) (CollaborationState, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return CollaborationState{}, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.stateLocked(), nil
}

// UpdateCursor 仅在场状态：不增版本、不做变换、不进操作日志。
// visible=false 时整个移除而不是存墓碑。
func (s *InMemoryService) UpdateCursor(ctx context.Context, docID, sessionID string, cursor json.RawMessage, visible bool) error {
	return s.updatePresenceField(ctx, docID, sessionID, cursor, visible, true)
}

func (s *InMemoryService) UpdateSelection(ctx context.Context, docID, sessionID string, sel json.RawMessage, visible bool) error {
	return s.updatePresenceField(ctx, docID, sessionID, sel, visible, false)
}

func (s *InMemoryService) updatePresenceField(ctx context.Context, docID, sessionID string, data json.RawMessage, visible, isCursor bool) error {
	ds, err := s.getDoc(docID)
	if err != nil {
		return err
	}
	now := time.Now()
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return ErrAuthenticationRequired
	}
	if !visible {
		data = nil
	}
	if isCursor {
		sess.Cursor = data
	} else {
		sess.Selection = data
	}
	sess.touch(now)
	p := sess.participant()
	ds.mu.Unlock()

	if s.mirror != nil {
		var merr error
		if !visible {
			merr = s.mirror.ClearCursor(ctx, docID, sessionID)
		} else if isCursor {
			merr = s.mirror.SetCursor(ctx, docID, sessionID, data, s.opt.PresenceTTL)
		}
		if merr != nil {
			log.Printf("presence cursor mirror failed doc=%s session=%s err=%v", docID, sessionID, merr)
		}
	}
	if s.caster != nil {
		evt := "cursor-update"
		if !isCursor {
			evt = "selection-update"
		}
		s.caster.BroadcastPresence(docID, evt, p, sessionID)
	}
	return nil
}

// CreateVersion 物化当前状态为不可变快照；
// 落库成功后才追加到内存快照列表，并以最老保留快照为界压缩日志。
func (s *InMemoryService) CreateVersion(ctx context.Context, docID, sessionID, message string, tags []string) (VersionSnapshot, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return VersionSnapshot{}, err
	}
	now := time.Now()
	ds.mu.Lock()
	defer ds.mu.Unlock()

	sess := ds.sessions[sessionID]
	if sess == nil {
		return VersionSnapshot{}, ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionWrite) {
		return VersionSnapshot{}, ErrAccessDenied
	}

	content := ds.buf.String()
	snap := VersionSnapshot{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Version:    ds.log.Version(),
		Content:    content,
		Spans:      ds.buf.Spans(),
		AuthorID:   sess.UserID,
		Message:    message,
		Tags:       tags,
		CreatedAt:  now,
		Checksum:   snapshotChecksum(docID, ds.log.Version(), content),
	}
	if s.snapshots != nil {
		if err := s.snapshots.SaveSnapshot(ctx, snap); err != nil {
			return VersionSnapshot{}, err
		}
	}
	ds.snapshots = append(ds.snapshots, snap)
	ds.lastSaved = now
	ds.dirty = false
	// 早于最老保留快照的日志段可以丢弃，此后这些 baseVersion 触发 StaleBase
	ds.log.CompactBefore(ds.snapshots[0].Version)

	s.record(ctx, ActivityEvent{EventType: EventVersionCreated, DocID: docID, ActorID: sess.UserID, SessionID: sessionID, Version: snap.Version, At: now})
	return snap, nil
}

// RestoreVersion 非破坏式回滚：替换活动状态并广播 version-restored。
// 其他活跃会话存在未追平的提交时拒绝（它们必须先重新同步）。
func (s *InMemoryService) RestoreVersion(ctx context.Context, docID, versionID, sessionID string) (uint64, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return 0, ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionManage) {
		ds.mu.Unlock()
		return 0, ErrAccessDenied
	}

	var snap *VersionSnapshot
	for i := range ds.snapshots {
		if ds.snapshots[i].ID == versionID {
			snap = &ds.snapshots[i]
			break
		}
	}
	if snap == nil {
		ds.mu.Unlock()
		return 0, ErrVersionNotFound
	}

	head := ds.log.Version()
	for id, other := range ds.sessions {
		if id == sessionID || other.Status == StatusLeft {
			continue
		}
		if other.SyncedVersion < head {
			ds.mu.Unlock()
			return 0, ErrRestoreBlocked
		}
	}

	ds.buf = NewPieceTable(snap.Content)
	ds.buf.spans = append([]AttrSpan(nil), snap.Spans...)
	ds.log.Reset(snap.Version)
	ds.dirty = false
	for _, other := range ds.sessions {
		other.SyncedVersion = snap.Version
	}
	sess.touch(now)
	version := snap.Version
	restoredBy := sess.UserID
	ds.mu.Unlock()

	if s.caster != nil {
		s.caster.BroadcastRestore(docID, versionID, version, restoredBy)
	}
	s.record(ctx, ActivityEvent{EventType: EventVersionRestored, DocID: docID, ActorID: restoredBy, SessionID: sessionID, Version: version, At: now})
	return version, nil
}

func (s *InMemoryService) ListVersions(ctx context.Context, docID string) ([]VersionSnapshot, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return nil, err
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]VersionSnapshot, len(ds.snapshots))
	copy(out, ds.snapshots)
	return out, nil
}

func (s *InMemoryService) AddComment(ctx context.Context, docID, sessionID string, req CommentRequest) (Comment, error) {
	ds, err := s.getDoc(docID)
	if err != nil {
		return Comment{}, err
	}
	now := time.Now()
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return Comment{}, ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionComment) {
		ds.mu.Unlock()
		return Comment{}, ErrAccessDenied
	}
	// 位置必须有效：要么落在文档范围内，要么挂在某个元素上
	if req.ElementID == "" && (req.Pos < 0 || req.Pos > ds.buf.Len()) {
		ds.mu.Unlock()
		return Comment{}, ot.ErrMalformedOperation
	}

	c := Comment{
		ID:        uuid.NewString(),
		AuthorID:  sess.UserID,
		Content:   req.Content,
		Pos:       req.Pos,
		ElementID: req.ElementID,
		Mentions:  req.Mentions,
		CreatedAt: now,
	}
	var thread *Thread
	if req.ThreadID != "" {
		thread = ds.threads[req.ThreadID]
		if thread == nil {
			ds.mu.Unlock()
			return Comment{}, ErrThreadNotFound
		}
		c.ThreadID = thread.RootCommentID
		thread.addReply(c)
	} else {
		c.ThreadID = c.ID
		thread = newThread(c)
		ds.threads[c.ID] = thread
	}
	sess.touch(now)
	tcopy := *thread
	ds.mu.Unlock()

	if s.comments != nil {
		if err := s.comments.SaveComment(ctx, docID, c); err != nil {
			log.Printf("comment persist failed doc=%s comment=%s err=%v", docID, c.ID, err)
		}
	}
	if s.caster != nil {
		s.caster.BroadcastComment(docID, "comment-added", tcopy, sessionID)
	}
	s.record(ctx, ActivityEvent{EventType: EventCommentAdded, DocID: docID, ActorID: c.AuthorID, SessionID: sessionID, OperationID: c.ID, At: now})
	// @提及：尽力而为的通知，丢了不影响文档一致性
	for _, uid := range c.Mentions {
		s.record(ctx, ActivityEvent{EventType: EventMention, DocID: docID, ActorID: uid, SessionID: sessionID, OperationID: c.ID, At: now})
	}
	return c, nil
}

func (s *InMemoryService) SetThreadStatus(ctx context.Context, docID, sessionID, rootCommentID string, status ThreadStatus) error {
	ds, err := s.getDoc(docID)
	if err != nil {
		return err
	}
	now := time.Now()
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionWrite) {
		ds.mu.Unlock()
		return ErrAccessDenied
	}
	thread := ds.threads[rootCommentID]
	if thread == nil {
		ds.mu.Unlock()
		return ErrThreadNotFound
	}
	changed := thread.setStatus(status)
	sess.touch(now)
	tcopy := *thread
	actorID := sess.UserID
	ds.mu.Unlock()

	if !changed {
		// 幂等：resolve 已 resolved 的线程是空操作
		return nil
	}
	if s.comments != nil {
		if err := s.comments.UpdateThreadStatus(ctx, docID, rootCommentID, status); err != nil {
			log.Printf("thread status persist failed doc=%s thread=%s err=%v", docID, rootCommentID, err)
		}
	}
	if s.caster != nil {
		s.caster.BroadcastComment(docID, "comment-resolved", tcopy, sessionID)
	}
	s.record(ctx, ActivityEvent{EventType: EventThreadStatus, DocID: docID, ActorID: actorID, SessionID: sessionID, OperationID: rootCommentID, At: now})
	return nil
}

// ArchiveDocument 归档。存在活跃会话时拒绝（文档活着不能删）。
func (s *InMemoryService) ArchiveDocument(ctx context.Context, docID, sessionID string) error {
	ds, err := s.getDoc(docID)
	if err != nil {
		return err
	}
	ds.mu.Lock()
	sess := ds.sessions[sessionID]
	if sess == nil {
		ds.mu.Unlock()
		return ErrAuthenticationRequired
	}
	if !sess.caps.Allows(policy.ActionManage) {
		ds.mu.Unlock()
		return ErrAccessDenied
	}
	for id, other := range ds.sessions {
		if id != sessionID && other.Status != StatusLeft {
			ds.mu.Unlock()
			return ErrDocumentActive
		}
	}
	ds.archived = true
	actorID := sess.UserID
	ds.mu.Unlock()

	if s.registry != nil {
		if err := s.registry.SetArchived(ctx, docID, true); err != nil {
			log.Printf("document archive persist failed doc=%s err=%v", docID, err)
		}
	}
	s.record(ctx, ActivityEvent{EventType: EventDocArchived, DocID: docID, ActorID: actorID, SessionID: sessionID, At: time.Now()})
	return nil
}

// Sweep 会话状态机的定时推进：active -> idle -> left。
// left 的会话移出文档并广播 participant-left；
// 它已提交的操作原样保留。
func (s *InMemoryService) Sweep(ctx context.Context, now time.Time) {
	s.mu.RLock()
	docs := make([]*docState, 0, len(s.docs))
	for _, ds := range s.docs {
		docs = append(docs, ds)
	}
	s.mu.RUnlock()

	for _, ds := range docs {
		var gone []Participant
		ds.mu.Lock()
		for id, sess := range ds.sessions {
			if sess.sweep(now, s.opt.IdleAfter, s.opt.LeaveAfter) {
				sess.Cursor = nil
				sess.Selection = nil
				gone = append(gone, sess.participant())
				delete(ds.sessions, id)
			}
		}
		docID := ds.docID
		ds.mu.Unlock()

		for _, p := range gone {
			s.dropPresence(ctx, docID, p.SessionID)
			if s.caster != nil {
				s.caster.BroadcastPresence(docID, "participant-left", p, p.SessionID)
			}
			s.record(ctx, ActivityEvent{EventType: EventParticipantLeft, DocID: docID, ActorID: p.UserID, SessionID: p.SessionID, At: now})
		}
	}
}

func (s *InMemoryService) dropPresence(ctx context.Context, docID, sessionID string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Remove(ctx, docID, sessionID); err != nil {
		log.Printf("presence remove failed doc=%s session=%s err=%v", docID, sessionID, err)
	}
	if err := s.mirror.ClearCursor(ctx, docID, sessionID); err != nil {
		log.Printf("presence cursor clear failed doc=%s session=%s err=%v", docID, sessionID, err)
	}
}

// record 审计落账，尽力而为
func (s *InMemoryService) record(ctx context.Context, evt ActivityEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Enqueue(ctx, evt); err != nil {
		log.Printf("activity enqueue failed doc=%s type=%s err=%v", evt.DocID, evt.EventType, err)
	}
}

func (ds *docState) participantsLocked() []Participant {
	out := make([]Participant, 0, len(ds.sessions))
	for _, sess := range ds.sessions {
		out = append(out, sess.participant())
	}
	return out
}

func (ds *docState) stateLocked() CollaborationState {
	threads := make([]Thread, 0, len(ds.threads))
	for _, t := range ds.threads {
		threads = append(threads, *t)
	}
	return CollaborationState{
		DocumentID:        ds.docID,
		Version:           ds.log.Version(),
		Content:           ds.buf.String(),
		Spans:             ds.buf.Spans(),
		Participants:      ds.participantsLocked(),
		Threads:           threads,
		LastSaved:         ds.lastSaved,
		HasUnsavedChanges: ds.dirty,
	}
}
