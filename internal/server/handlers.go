package server

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/network"
	"github.com/strazto/jellyfin/internal/storage"
	"github.com/strazto/jellyfin/internal/types"
	"github.com/strazto/jellyfin/internal/version"
)

// ServerInfo is returned by /api/info
type ServerInfo struct {
	Version          *version.VersionInfo `json:"version"`
	Generation       string               `json:"generation"`
	SnapshotTime     time.Time            `json:"snapshotTime"`
	IPv4Enabled      bool                 `json:"ipv4Enabled"`
	IPv6Enabled      bool                 `json:"ipv6Enabled"`
	Interfaces       int                  `json:"interfaces"`
	BindInterfaces   int                  `json:"bindInterfaces"`
	WebSocketClients int                  `json:"websocketClients"`
}

// ResolveResponse is the answer of the resolve endpoints
type ResolveResponse struct {
	Peer    string `json:"peer,omitempty"`
	Address string `json:"address"`
	Port    *int   `json:"port,omitempty"`
}

// LocalResponse is the answer of /api/network/local
type LocalResponse struct {
	Host  string `json:"host"`
	Local bool   `json:"local"`
}

// RemoteAllowedResponse is the answer of /api/network/remote-allowed
type RemoteAllowedResponse struct {
	Peer    string `json:"peer"`
	Allowed bool   `json:"allowed"`
}

func (s *Server) handleServerInfo(c *gin.Context) {
	snap := s.network.Snapshot()
	respondOK(c, ServerInfo{
		Version:          version.GetVersionInfo(),
		Generation:       snap.Generation.String(),
		SnapshotTime:     snap.CreatedAt,
		IPv4Enabled:      snap.IPv4Enabled,
		IPv6Enabled:      snap.IPv6Enabled,
		Interfaces:       len(snap.Interfaces),
		BindInterfaces:   len(snap.BindInterfaces),
		WebSocketClients: s.hub.ClientCount(),
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	respondOK(c, s.network.Snapshot())
}

func (s *Server) handleBindInterfaces(c *gin.Context) {
	individual := c.Query("individual") == "true"
	respondOK(c, nonNil(s.network.Snapshot().AllBindInterfaces(individual)))
}

func (s *Server) handleRawInterfaces(c *gin.Context) {
	respondOK(c, nonNil(s.network.Snapshot().Interfaces))
}

func (s *Server) handleInternalInterfaces(c *gin.Context) {
	respondOK(c, nonNil(s.network.Snapshot().InternalBindAddresses()))
}

func (s *Server) handleLoopbacks(c *gin.Context) {
	respondOK(c, nonNil(s.network.Snapshot().Loopbacks()))
}

func (s *Server) handleMACs(c *gin.Context) {
	macs := s.network.Snapshot().MACAddresses
	if macs == nil {
		macs = []string{}
	}
	respondOK(c, macs)
}

func (s *Server) handleAdapter(c *gin.Context) {
	name := c.Param("name")
	addrs, ok := s.network.Snapshot().TryResolveAdapterName(name)
	if !ok {
		respondError(c, types.ErrNotFound, "adapter "+strconv.Quote(name)+" has no bind addresses")
		return
	}
	respondOK(c, addrs)
}

func (s *Server) handleResolve(c *gin.Context) {
	peer := c.Query("peer")
	skip := c.Query("skipOverrides") == "true"

	var resp ResolveResponse
	resp.Peer = peer
	switch addr, err := netip.ParseAddr(peer); {
	case peer == "":
		resp.Address, resp.Port = s.network.ResolveBindAddress(netip.Addr{}, skip)
	case err == nil:
		resp.Address, resp.Port = s.network.ResolveBindAddress(addr, skip)
	default:
		resp.Address, resp.Port = s.network.ResolveBindAddressString(c.Request.Context(), peer)
	}
	respondOK(c, resp)
}

func (s *Server) handleResolveRequest(c *gin.Context) {
	address, port := s.network.ResolveBindAddressForRequest(c.Request)
	respondOK(c, ResolveResponse{Peer: c.Request.Host, Address: address, Port: port})
}

func (s *Server) handleIsLocal(c *gin.Context) {
	host := c.Query("host")
	if host == "" {
		respondError(c, types.ErrInvalidRequest, "host is required")
		return
	}
	respondOK(c, LocalResponse{Host: host, Local: s.network.IsLocalString(c.Request.Context(), host)})
}

func (s *Server) handleRemoteAllowed(c *gin.Context) {
	peer := c.Query("peer")
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		respondErrorDetails(c, types.ErrInvalidRequest, "peer must be an IP address", err)
		return
	}
	respondOK(c, RemoteAllowedResponse{Peer: peer, Allowed: s.network.IsRemoteAllowed(addr)})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.journal == nil {
		respondError(c, types.ErrUnavailable, "snapshot journal is disabled")
		return
	}

	limit, err := queryInt(c, "limit", 20)
	if err != nil || limit <= 0 {
		respondError(c, types.ErrInvalidRequest, "limit must be a positive integer")
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		respondError(c, types.ErrInvalidRequest, "offset must be a non-negative integer")
		return
	}

	records, err := s.journal.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondErrorDetails(c, types.ErrInternalError, "failed to read snapshot journal", err)
		return
	}
	c.JSON(http.StatusOK, types.NewPage(records, limit, offset, requestID(c)))
}

func (s *Server) handleHistoryEntry(c *gin.Context) {
	if s.journal == nil {
		respondError(c, types.ErrUnavailable, "snapshot journal is disabled")
		return
	}

	rec, err := s.journal.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		respondError(c, types.ErrNotFound, "snapshot not found")
		return
	}
	if err != nil {
		respondErrorDetails(c, types.ErrInternalError, "failed to read snapshot journal", err)
		return
	}
	respondOK(c, rec)
}

// handleLogEntries returns recent log entries
func (s *Server) handleLogEntries(c *gin.Context) {
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		respondError(c, types.ErrInvalidRequest, "limit must be an integer")
		return
	}
	level := c.Query("level")
	if level != "" && !logger.ValidLevel(level) {
		respondError(c, types.ErrInvalidRequest, "unknown log level "+strconv.Quote(level))
		return
	}

	entries := logger.GetLogStream().GetEntries(limit, level)
	respondOK(c, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// handleLogStream streams log entries using Server-Sent Events
func (s *Server) handleLogStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	fromBeginning := c.DefaultQuery("fromBeginning", "false") == "true"
	limit, _ := queryInt(c, "limit", 100)

	stream := logger.GetLogStream()
	logCh := stream.Subscribe()
	defer stream.Unsubscribe(logCh)

	if fromBeginning {
		for _, entry := range stream.GetEntries(limit, "") {
			c.SSEvent("log", entry)
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case entry, ok := <-logCh:
			if !ok {
				return
			}
			c.SSEvent("log", entry)
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent("keepalive", "")
			c.Writer.Flush()
		}
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func nonNil(list []network.InterfaceAddress) []network.InterfaceAddress {
	if list == nil {
		return []network.InterfaceAddress{}
	}
	return list
}
