package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/casa-followups/internal/api/middleware"
	"github.com/d60-Lab/casa-followups/internal/model"
	"github.com/d60-Lab/casa-followups/internal/notify"
	"github.com/d60-Lab/casa-followups/internal/presenter"
	"github.com/d60-Lab/casa-followups/internal/repository"
	"github.com/d60-Lab/casa-followups/internal/service"
	"github.com/d60-Lab/casa-followups/pkg/logger"
	"github.com/d60-Lab/casa-followups/pkg/response"
)

type createFollowupRequest struct {
	Note string `json:"note" binding:"max=2000"`
}

// CreateFollowup 对某次联络记录发起跟进
// @Summary 发起跟进
// @Tags 跟进
// @Accept json
// @Produce json
// @Param id path string true "联络记录ID"
// @Param request body createFollowupRequest false "备注"
// @Success 201 {object} response.Response{data=presenter.FollowupView}
// @Failure 404 {object} response.Response
// @Failure 422 {object} response.Response{data=presenter.FollowupView}
// @Router /api/v1/case_contacts/{id}/followups [post]
func (h *Handler) CreateFollowup(c *gin.Context) {
	var req createFollowupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	ctx := c.Request.Context()
	cc, err := h.contacts.GetByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.NotFound(c, "case contact not found")
			return
		}
		response.InternalError(c, err)
		return
	}

	actor := middleware.ActorID(c)
	f, err := h.followups.CreateFollowup(ctx, model.SubjectOf(cc), actor, req.Note)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			response.Unprocessable(c, verr.Error(), presenter.View(f, actor, h.now()))
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Created(c, presenter.View(f, actor, h.now()))
}

// ResolveFollowup 解决跟进；重复解决返回当前状态
// @Summary 解决跟进
// @Tags 跟进
// @Produce json
// @Param id path string true "跟进ID"
// @Success 200 {object} response.Response{data=presenter.FollowupView}
// @Failure 404 {object} response.Response
// @Router /api/v1/followups/{id}/resolve [patch]
func (h *Handler) ResolveFollowup(c *gin.Context) {
	ctx := c.Request.Context()
	f, ok := h.loadFollowup(c)
	if !ok {
		return
	}
	actor := middleware.ActorID(c)
	if err := h.followups.ResolveFollowup(ctx, f, actor); err != nil {
		if errors.Is(err, service.ErrFollowupNotFound) {
			response.NotFound(c, "followup not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Success(c, presenter.View(f, actor, h.now()))
}

// GetFollowup 查询单条跟进
// @Summary 跟进详情
// @Tags 跟进
// @Param id path string true "跟进ID"
// @Success 200 {object} response.Response{data=presenter.FollowupView}
// @Failure 404 {object} response.Response
// @Router /api/v1/followups/{id} [get]
func (h *Handler) GetFollowup(c *gin.Context) {
	f, ok := h.loadFollowup(c)
	if !ok {
		return
	}
	response.Success(c, presenter.View(f, middleware.ActorID(c), h.now()))
}

// ListCaseContactFollowups 某次联络记录上的跟进及未解决数量
// @Summary 联络记录的跟进列表
// @Tags 跟进
// @Param id path string true "联络记录ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/case_contacts/{id}/followups [get]
func (h *Handler) ListCaseContactFollowups(c *gin.Context) {
	ctx := c.Request.Context()
	subject := model.Subject{Type: model.SubjectTypeCaseContact, ID: c.Param("id")}
	page, pageSize := pageParams(c)

	list, err := h.followups.ListForSubject(ctx, subject, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	badge := presenter.BadgeCount(list)
	if h.openCache != nil {
		if n, err := h.openCache.OpenCount(ctx, subject); err == nil {
			badge = n
		} else {
			logger.Warn("open count failed", zap.String("subject", subject.String()), zap.Error(err))
		}
	}
	response.Success(c, gin.H{
		"page":        page,
		"page_size":   pageSize,
		"badge_count": badge,
		"list":        presenter.Views(list, middleware.ActorID(c), h.now()),
	})
}

// ListMyOpenFollowups 当前用户发起且未解决的跟进
// @Summary 我的待跟进
// @Tags 跟进
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/followups/mine [get]
func (h *Handler) ListMyOpenFollowups(c *gin.Context) {
	actor := middleware.ActorID(c)
	page, pageSize := pageParams(c)
	list, err := h.followups.ListOpenForCreator(c.Request.Context(), actor, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": presenter.Views(list, actor, h.now())})
}

// ListNotifications 当前用户的站内通知
// @Summary 站内通知
// @Tags 通知
// @Param limit query int false "条数" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/notifications [get]
func (h *Handler) ListNotifications(c *gin.Context) {
	if h.inbox == nil {
		response.Success(c, gin.H{"list": []notify.Event{}})
		return
	}
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	events, err := h.inbox.Inbox(c.Request.Context(), middleware.ActorID(c), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"list": events})
}

// Healthz 存活检查，顺带探测数据库
func (h *Handler) Healthz(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, response.Response{Code: http.StatusServiceUnavailable, Message: err.Error()})
			return
		}
	}
	response.Success(c, gin.H{"status": "ok"})
}

func (h *Handler) loadFollowup(c *gin.Context) (*model.Followup, bool) {
	f, err := h.followups.GetFollowup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrFollowupNotFound) {
			response.NotFound(c, "followup not found")
			return nil, false
		}
		response.InternalError(c, err)
		return nil, false
	}
	return f, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	return page, pageSize
}
