package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrToolNotFound 未注册的工具名
	ErrToolNotFound = errors.New("tool not found")
	// ErrDuplicateTool 重复注册
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrRegistrySealed Seal 之后不允许再注册
	ErrRegistrySealed = errors.New("tool registry is sealed")
)

// Registry 封闭的工具注册表；启动时只追加注册，Seal 后只读
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]Definition
	sealed bool
}

// NewRegistry 创建新 Registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Definition)}
}

// Register 注册工具
func (r *Registry) Register(d Definition) error {
	if d.Name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %s: %w", d.Name, ErrRegistrySealed)
	}
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("register %s: %w", d.Name, ErrDuplicateTool)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Seal 禁止后续注册
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup 按名称获取工具
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return d, nil
}

// List 按注册顺序返回所有工具
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	return list
}

// ToolSchemaForLLM 供 LLM 使用的工具描述
type ToolSchemaForLLM struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	SideEffect  string         `json:"side_effect,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Schemas 按注册顺序返回工具描述
func (r *Registry) Schemas() []ToolSchemaForLLM {
	list := r.List()
	out := make([]ToolSchemaForLLM, 0, len(list))
	for _, d := range list {
		out = append(out, ToolSchemaForLLM{
			Name:        d.Name,
			Description: d.Description,
			SideEffect:  d.SideEffect,
			Parameters:  d.JSONSchema(),
		})
	}
	return out
}

// SchemasForLLM 返回所有工具的 Schema 列表（JSON，供 Planner 使用）
func (r *Registry) SchemasForLLM() ([]byte, error) {
	return json.Marshal(r.Schemas())
}
