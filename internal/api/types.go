package api

import (
	"github.com/samcharles93/kforge/internal/find"
	"github.com/samcharles93/kforge/internal/perfdb"
	"github.com/samcharles93/kforge/internal/solver"
	"github.com/samcharles93/kforge/pkg/kforge"
)

type SolverInfo struct {
	Index        int      `json:"index"`
	Name         string   `json:"name"`
	Kinds        []string `json:"kinds"`
	RequiresBLAS bool     `json:"requires_blas"`
	Deprecated   bool     `json:"deprecated"`
	Tunable      bool     `json:"tunable"`
}

type SolverList struct {
	Object string       `json:"object"`
	Data   []SolverInfo `json:"data"`
}

type FindRequest struct {
	Problem kforge.ConvSpec `json:"problem"`
	// Workspace overrides the handle's workspace limit, in elements.
	Workspace *int `json:"workspace,omitempty"`
}

type FindResponse struct {
	Object    string        `json:"object"`
	Problem   string        `json:"problem"`
	Key       string        `json:"key"`
	Workspace int           `json:"workspace"`
	Results   []find.Result `json:"results"`
}

type PerfDBResponse struct {
	Object  string          `json:"object"`
	Session string          `json:"session"`
	Records []perfdb.Record `json:"records"`
}

type ClearResponse struct {
	Object  string `json:"object"`
	Cleared int    `json:"cleared"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type errorBody struct {
	Error ResponseError `json:"error"`
}

func solverInfo(index int, s solver.Solver) SolverInfo {
	info := SolverInfo{
		Index:        index,
		Name:         s.Name(),
		RequiresBLAS: s.RequiresBLAS(),
		Deprecated:   s.Deprecated(),
	}
	for _, k := range s.Kinds() {
		info.Kinds = append(info.Kinds, k.String())
	}
	_, info.Tunable = s.(solver.Tunable)
	return info
}
