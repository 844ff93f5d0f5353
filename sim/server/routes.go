package server

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/virtaccl/virtaccl/sim"
)

// PVView is the JSON form of one parameter.
type PVView struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Count     int       `json:"count,omitempty"`
	Prec      int       `json:"prec,omitempty"`
	Low       *float64  `json:"low,omitempty"`
	High      *float64  `json:"high,omitempty"`
}

// PutRequest is the body of PUT /pvs/:name.
type PutRequest struct {
	Value any `json:"value"`
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/pvs", s.handleList)
	r.GET("/pvs/:name", s.handleGet)
	r.PUT("/pvs/:name", s.handlePut)
	r.GET("/monitor", s.handleMonitor)
	return r
}

func (s *Server) view(name string) (PVView, bool) {
	def, ok := s.defs[name]
	if !ok {
		return PVView{}, false
	}
	v := PVView{
		Name:  name,
		Type:  def.Type,
		Count: def.Count,
		Prec:  def.Prec,
		Low:   def.Low,
		High:  def.High,
	}
	if e, ok := s.values[name]; ok {
		v.Value = sim.ToAny(e.Value)
		v.Timestamp = e.Timestamp
	}
	return v, true
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.RLock()
	body := gin.H{"status": "ok", "parameters": len(s.defs), "monitors": s.hub.size()}
	s.mu.RUnlock()
	if s.health != nil {
		body["loop"] = s.health()
	}
	c.JSON(http.StatusOK, body)
}

// handleList serves every parameter, optionally filtered by ?prefix=.
func (s *Server) handleList(c *gin.Context) {
	prefix := c.Query("prefix")
	s.mu.RLock()
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	out := make([]PVView, 0, len(names))
	for _, name := range names {
		v, _ := s.view(name)
		out = append(out, v)
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c *gin.Context) {
	name := c.Param("name")
	s.mu.RLock()
	v, ok := s.view(name)
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown parameter " + name})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handlePut(c *gin.Context) {
	name := c.Param("name")
	var req PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing value"})
		return
	}
	v, err := sim.FromAny(req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Put(name, v); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnknownParameter) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"name": name, "value": sim.ToAny(v)})
}
