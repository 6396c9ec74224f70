package api

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/securechat/pkg/protocol"
	"github.com/ZentaChain/securechat/pkg/relay"
)

// HealthResponse reports liveness
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
}

// UsersResponse lists online users with their statuses
type UsersResponse struct {
	Count int                   `json:"count"`
	Users []protocol.UserStatus `json:"users"`
}

// GroupsResponse lists group names
type GroupsResponse struct {
	Count  int      `json:"count"`
	Groups []string `json:"groups"`
}

// GroupResponse describes one group
type GroupResponse struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Online  []string `json:"online"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Uptime:     s.relay.GetStats().Uptime,
		Goroutines: runtime.NumGoroutine(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.GetStats())
}

func (s *Server) handleUsers(c *gin.Context) {
	users := protocol.ParseUserList(protocol.FormatUserList(s.relay.Registry().UserStatuses()))
	if users == nil {
		users = []protocol.UserStatus{}
	}
	c.JSON(http.StatusOK, UsersResponse{Count: len(users), Users: users})
}

func (s *Server) handleGroups(c *gin.Context) {
	groups := s.relay.Registry().Groups()
	if groups == nil {
		groups = []string{}
	}
	c.JSON(http.StatusOK, GroupsResponse{Count: len(groups), Groups: groups})
}

func (s *Server) handleGroup(c *gin.Context) {
	name := c.Param("name")
	reg := s.relay.Registry()

	members, err := reg.GroupMembers(name)
	if errors.Is(err, relay.ErrGroupNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Group not found", Message: name})
		return
	}

	online := []string{}
	for _, m := range members {
		if reg.IsOnline(m) {
			online = append(online, m)
		}
	}

	c.JSON(http.StatusOK, GroupResponse{Name: name, Members: members, Online: online})
}
