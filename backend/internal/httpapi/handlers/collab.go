package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collabCore/backend/internal/cache"
	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/store"
)

// Handler 只读旁路接口：协作主链路走 websocket，
// 这里提供状态、版本、活动日志与跨进程在场状态的 HTTP 查询
type Handler struct {
	svc      collab.Service
	activity *store.ActivityLog
	presence cache.PresenceCache
}

func NewHandler(svc collab.Service, activity *store.ActivityLog, presence cache.PresenceCache) *Handler {
	return &Handler{svc: svc, activity: activity, presence: presence}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/docs/:docId/state", h.getState)
	rg.GET("/docs/:docId/ops", h.getOps)
	rg.GET("/docs/:docId/versions", h.listVersions)
	rg.GET("/docs/:docId/activity", h.getActivity)
	rg.GET("/docs/:docId/presence", h.getPresence)
	rg.GET("/presence/docs", h.listActiveDocuments)
}

func (h *Handler) getState(c *gin.Context) {
	state, err := h.svc.State(c.Request.Context(), c.Param("docId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) getOps(c *gin.Context) {
	from, _ := strconv.ParseUint(c.Query("from"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ops, err := h.svc.OpsSince(c.Request.Context(), c.Param("docId"), from, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}

func (h *Handler) listVersions(c *gin.Context) {
	versions, err := h.svc.ListVersions(c.Request.Context(), c.Param("docId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *Handler) getActivity(c *gin.Context) {
	if h.activity == nil {
		c.JSON(http.StatusOK, gin.H{"events": []collab.ActivityEvent{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.activity.RecentActivity(c.Request.Context(), c.Param("docId"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

type presenceView struct {
	SessionID string          `json:"sessionId"`
	UserID    uint64          `json:"userId"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
}

// getPresence 房间的跨进程在场视图：直接读 redis 镜像，
// 不依赖本进程的会话表（其他实例接入的会话也能看到）
func (h *Handler) getPresence(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []presenceView{}})
		return
	}
	docID := c.Param("docId")
	entries, err := h.presence.AliveSessions(c.Request.Context(), docID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	sessions := make([]presenceView, 0, len(entries))
	for _, e := range entries {
		v := presenceView{SessionID: e.SessionID, UserID: e.UserID}
		// 光标键带 TTL，过期或缺失就留空
		if data, err := h.presence.GetCursor(c.Request.Context(), docID, e.SessionID); err == nil {
			v.Cursor = json.RawMessage(data)
		}
		sessions = append(sessions, v)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// listActiveDocuments 当前有人在线的文档列表
func (h *Handler) listActiveDocuments(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusOK, gin.H{"documents": []string{}})
		return
	}
	docs, err := h.presence.Documents(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	if docs == nil {
		docs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// 错误码即错误文本，按类别映射 HTTP 状态
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collab.ErrDocumentNotFound),
		errors.Is(err, collab.ErrVersionNotFound),
		errors.Is(err, collab.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, collab.ErrAuthenticationRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, collab.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, collab.ErrStaleBase),
		errors.Is(err, collab.ErrDuplicateOrOutOfOrder),
		errors.Is(err, collab.ErrRestoreBlocked),
		errors.Is(err, collab.ErrDocumentArchived),
		errors.Is(err, collab.ErrDocumentActive):
		status = http.StatusConflict
	}
	c.AbortWithStatusJSON(status, gin.H{"code": err.Error()})
}
