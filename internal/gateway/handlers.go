package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/attendance"
	"attendancesvc/internal/auth"
)

// AttendanceAPI is the attendance service as seen from the edge.
type AttendanceAPI interface {
	CheckIn(ctx context.Context, userID, photoURL string) (attendance.Record, error)
	CheckOut(ctx context.Context, userID string) (attendance.Record, error)
	Status(ctx context.Context, userID string) (attendance.StatusResult, error)
	ListMine(ctx context.Context, userID string, q attendance.ListQuery) (attendance.Page, error)
	ListAll(ctx context.Context, q attendance.ListQuery) (attendance.Page, error)
}

type handlers struct {
	api    AttendanceAPI
	photos PhotoStore
	log    *zap.Logger
}

func subject(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

func (h *handlers) status(c *gin.Context) {
	res, err := h.api.Status(c.Request.Context(), subject(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusOK, res.Message, viewStatus(res))
}

func (h *handlers) checkIn(c *gin.Context) {
	ctx := c.Request.Context()

	var photo Photo
	fh, err := c.FormFile("photo")
	switch {
	case err == nil:
		photo, err = h.photos.Save(ctx, fh)
		if err != nil {
			fail(c, h.log, err)
			return
		}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// No photo: the service rejects the empty URL.
	case errors.As(err, new(*http.MaxBytesError)):
		fail(c, h.log, &apperr.Error{Kind: apperr.KindInvalidArgument, Status: http.StatusRequestEntityTooLarge, Message: "File too large"})
		return
	default:
		fail(c, h.log, apperr.InvalidArgument("Malformed multipart body"))
		return
	}

	rec, err := h.api.CheckIn(ctx, subject(c), photo.URL)
	if err != nil {
		if rejected(err) {
			h.discard(photo)
		}
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, "Check-in successful", viewRecord(rec))
}

// rejected reports whether err proves the check-in was not recorded. After a
// timeout or an unclassified failure the service may still commit it.
func rejected(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument, apperr.KindNotFound, apperr.KindConflict, apperr.KindUnavailable:
		return true
	}
	return false
}

// discard removes a photo whose check-in did not go through.
func (h *handlers) discard(p Photo) {
	if p.URL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.photos.Remove(ctx, p); err != nil {
		h.log.Warn("remove orphaned photo", zap.String("photo", p.URL), zap.Error(err))
	}
}

func (h *handlers) checkOut(c *gin.Context) {
	rec, err := h.api.CheckOut(c.Request.Context(), subject(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respond(c, http.StatusCreated, "Check-out successful", viewRecord(rec))
}

func (h *handlers) listMine(c *gin.Context) {
	q, err := listQuery(c)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	page, err := h.api.ListMine(c.Request.Context(), subject(c), q)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respondPage(c, page)
}

func (h *handlers) listAll(c *gin.Context) {
	q, err := listQuery(c)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	q.UserID = c.Query("userId")
	page, err := h.api.ListAll(c.Request.Context(), q)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	respondPage(c, page)
}

// listQuery reads page, limit, startDate and endDate. Present page and limit
// values must be positive integers.
func listQuery(c *gin.Context) (attendance.ListQuery, error) {
	q := attendance.ListQuery{
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	}
	var err error
	if q.Page, err = positiveParam(c, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = positiveParam(c, "limit"); err != nil {
		return q, err
	}
	return q, nil
}

func positiveParam(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.InvalidArgument(name + " must be a positive integer")
	}
	return n, nil
}
