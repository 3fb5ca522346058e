package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/attendance"
	"attendancesvc/internal/pagination"
)

// envelope is the body of every gateway response.
type envelope struct {
	Success    bool             `json:"success"`
	StatusCode int              `json:"statusCode"`
	Message    string           `json:"message"`
	Data       any              `json:"data,omitempty"`
	Meta       *pagination.Meta `json:"meta,omitempty"`
	Operation  string           `json:"operation,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, StatusCode: status, Message: message, Data: data})
}

func respondPage(c *gin.Context, page attendance.Page) {
	meta := page.Meta
	c.JSON(http.StatusOK, envelope{
		Success:    true,
		StatusCode: http.StatusOK,
		Message:    "Success",
		Data:       viewRecords(page.Data),
		Meta:       &meta,
	})
}

// fail writes err as an error envelope. Only the public status and message
// leave the process; unclassified errors are logged.
func fail(c *gin.Context, log *zap.Logger, err error) {
	status, msg := apperr.Public(err)
	body := envelope{StatusCode: status, Message: msg}

	var ae *apperr.Error
	if errors.As(err, &ae) {
		if ae.Kind == apperr.KindTimeout || ae.Kind == apperr.KindUnavailable {
			body.Operation = ae.Op
		}
	} else {
		log.Error("unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// recordView is a record as shown to HTTP clients.
type recordView struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	CheckInTime  time.Time  `json:"checkInTime"`
	CheckOutTime *time.Time `json:"checkOutTime"`
	PhotoURL     string     `json:"photoUrl"`
}

// publicPhotoURL maps locally stored photos onto the static route.
func publicPhotoURL(u string) string {
	if strings.HasPrefix(u, "uploads/") {
		return "/public/" + u
	}
	return u
}

func viewRecord(r attendance.Record) recordView {
	return recordView{
		ID:           r.ID,
		UserID:       r.UserID,
		CheckInTime:  r.CheckInTime,
		CheckOutTime: r.CheckOutTime,
		PhotoURL:     publicPhotoURL(r.PhotoURL),
	}
}

func viewRecords(recs []attendance.Record) []recordView {
	out := make([]recordView, 0, len(recs))
	for _, r := range recs {
		out = append(out, viewRecord(r))
	}
	return out
}

type statusView struct {
	Status            attendance.Status `json:"status"`
	Message           string            `json:"message"`
	CurrentAttendance *recordView       `json:"currentAttendance,omitempty"`
}

func viewStatus(s attendance.StatusResult) statusView {
	v := statusView{Status: s.Status, Message: s.Message}
	if s.CurrentAttendance != nil {
		rv := viewRecord(*s.CurrentAttendance)
		v.CurrentAttendance = &rv
	}
	return v
}
