package rest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dfryer1193/photofeed/api"
	"github.com/dfryer1193/photofeed/gallery/application"
	"github.com/dfryer1193/photofeed/gallery/domain"
)

// Uploader stores a new image for a user.
type Uploader interface {
	Upload(ctx context.Context, user *domain.Identity, filename string, r io.Reader, size int64, contentType string, visibility domain.Visibility) (*domain.ImageRecord, error)
}

// ImageDeleter removes an image at the current user's request.
type ImageDeleter interface {
	Delete(ctx context.Context, key domain.ImageKey) error
}

// AuthService is the slice of the auth provider the handlers need.
type AuthService interface {
	Current() (*domain.Identity, bool)
	SignIn(ctx context.Context, token string) (*domain.Identity, error)
	SignOut()
}

// GalleryHandler serves the gallery API.
type GalleryHandler struct {
	uploader Uploader
	deleter  ImageDeleter
	index    *application.ImageIndex
	owners   *application.OwnerCache
	auth     AuthService
	hub      *EventHub
}

// NewGalleryHandler wires the gallery handlers.
func NewGalleryHandler(uploader Uploader, deleter ImageDeleter, index *application.ImageIndex, owners *application.OwnerCache, auth AuthService, hub *EventHub) *GalleryHandler {
	return &GalleryHandler{
		uploader: uploader,
		deleter:  deleter,
		index:    index,
		owners:   owners,
		auth:     auth,
		hub:      hub,
	}
}

// RegisterRoutes mounts the gallery and auth routes.
func (h *GalleryHandler) RegisterRoutes(router *gin.Engine) {
	galleryV1 := router.Group("gallery/v1")
	{
		galleryV1.GET("/images", h.ListImages)
		galleryV1.POST("/images", h.UploadImage)
		galleryV1.DELETE("/images/:visibility/:owner/:filename", h.DeleteImage)
		galleryV1.GET("/events", h.StreamEvents)
	}

	authV1 := router.Group("auth/v1")
	{
		authV1.POST("/login", h.Login)
		authV1.POST("/logout", h.Logout)
		authV1.GET("/me", h.Me)
	}
}

// ListImages renders the current index as cards. Owner info comes from
// the cache only; owners still resolving render without profile fields.
func (h *GalleryHandler) ListImages(c *gin.Context) {
	cards := []*api.ImageCard{}
	for _, rec := range h.index.Records() {
		profile, _ := h.owners.Cached(rec.Owner)
		cards = append(cards, cardFrom(rec, profile))
	}
	c.JSON(http.StatusOK, cards)
}

// UploadImage accepts a multipart upload with a "file" part and a
// "visibility" form value.
func (h *GalleryHandler) UploadImage(c *gin.Context) {
	user, _ := h.auth.Current()

	visibility, err := domain.ParseVisibility(c.DefaultPostForm("visibility", string(domain.VisibilityPrivate)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	rec, err := h.uploader.Upload(c.Request.Context(), user, header.Filename, file, header.Size, header.Header.Get("Content-Type"), visibility)
	if err != nil {
		h.writeError(c, err)
		return
	}

	profile, _ := h.owners.Cached(rec.Owner)
	c.JSON(http.StatusCreated, cardFrom(rec, profile))
}

// DeleteImage removes the image identified by its key path segments.
func (h *GalleryHandler) DeleteImage(c *gin.Context) {
	visibility, err := domain.ParseVisibility(c.Param("visibility"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key := domain.ImageKey{
		Owner:      c.Param("owner"),
		Visibility: visibility,
		Filename:   c.Param("filename"),
	}

	if err := h.deleter.Delete(c.Request.Context(), key); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// StreamEvents streams view events as server-sent events.
func (h *GalleryHandler) StreamEvents(c *gin.Context) {
	events, cancel := h.hub.Subscribe()
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(e.Type, e)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Login establishes a session from a token.
func (h *GalleryHandler) Login(c *gin.Context) {
	req := &api.LoginRequest{}
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.auth.SignIn(c.Request.Context(), req.Token)
	if err != nil {
		log.Warn().Err(err).Msg("Login failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, userInfo(user))
}

// Logout drops the current session.
func (h *GalleryHandler) Logout(c *gin.Context) {
	h.auth.SignOut()
	c.Status(http.StatusNoContent)
}

// Me reports the signed-in user.
func (h *GalleryHandler) Me(c *gin.Context) {
	user, ok := h.auth.Current()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	c.JSON(http.StatusOK, userInfo(user))
}

func (h *GalleryHandler) writeError(c *gin.Context, err error) {
	var malformed *domain.MalformedRecordError
	var partial *domain.PartialDeleteFailureError

	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.As(err, &malformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &partial):
		// The stores are now inconsistent; the client must not simply retry.
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func userInfo(user *domain.Identity) *api.UserInfo {
	return &api.UserInfo{
		UID:         user.UID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		AvatarURL:   user.AvatarURL,
	}
}
