package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/annel0/regionkeeper/internal/logging"
	"gopkg.in/yaml.v3"
)

// Document - дерево данных с адресацией по пути "a.b.c", сериализуемое в YAML
// и сохраняемое в Backend целиком.
type Document struct {
	name    string
	backend Backend

	mu   sync.RWMutex
	root map[string]interface{}

	saveMu sync.Mutex
}

// Open загружает документ из бэкенда. Отсутствующий документ открывается пустым.
func Open(ctx context.Context, backend Backend, name string) (*Document, error) {
	d := &Document{
		name:    name,
		backend: backend,
		root:    make(map[string]interface{}),
	}
	if err := d.Reload(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// Name возвращает имя документа
func (d *Document) Name() string {
	return d.name
}

// Reload перечитывает документ из бэкенда, отбрасывая несохранённые изменения
func (d *Document) Reload(ctx context.Context) error {
	data, err := d.backend.Load(ctx, d.name)
	if errors.Is(err, ErrNotFound) {
		d.mu.Lock()
		d.root = make(map[string]interface{})
		d.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	root := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("документ %s повреждён: %w", d.name, err)
	}

	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
	return nil
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookup находит значение; вызывается под блокировкой
func (d *Document) lookup(path string) (interface{}, bool) {
	var cur interface{} = d.root
	for _, part := range splitPath(path) {
		node, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

// Get возвращает значение по пути
func (d *Document) Get(path string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(path)
}

// Has проверяет наличие значения
func (d *Document) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// Set записывает значение, создавая промежуточные узлы
func (d *Document) Set(path string, value interface{}) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	node := d.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			child = make(map[string]interface{})
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// Remove удаляет значение или поддерево
func (d *Document) Remove(path string) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	node := d.root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]interface{})
		if !ok {
			return false
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}

// Children возвращает отсортированные ключи дочерних узлов
func (d *Document) Children(path string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.lookup(path)
	if !ok {
		return nil
	}
	node, ok := asMap(v)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String возвращает строку или def
func (d *Document) String(path, def string) string {
	v, ok := d.Get(path)
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Int возвращает целое или def
func (d *Document) Int(path string, def int) int {
	v, ok := d.Get(path)
	if !ok {
		return def
	}
	if n, ok := toInt(v); ok {
		return n
	}
	return def
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// Bool возвращает логическое значение или def
func (d *Document) Bool(path string, def bool) bool {
	v, ok := d.Get(path)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err == nil {
			return parsed
		}
	}
	return def
}

// Float возвращает число с плавающей точкой или def
func (d *Document) Float(path string, def float64) float64 {
	v, ok := d.Get(path)
	if !ok {
		return def
	}
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	}
	return def
}

// IntSlice возвращает список целых
func (d *Document) IntSlice(path string) ([]int, bool) {
	v, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	switch list := v.(type) {
	case []int:
		out := make([]int, len(list))
		copy(out, list)
		return out, true
	case []interface{}:
		out := make([]int, 0, len(list))
		for _, item := range list {
			n, ok := toInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

// StringSlice возвращает список строк
func (d *Document) StringSlice(path string) []string {
	v, ok := d.Get(path)
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Map возвращает копию узла
func (d *Document) Map(path string) map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	v, ok := d.lookup(path)
	if !ok {
		return nil
	}
	node, ok := asMap(v)
	if !ok {
		return nil
	}
	out := make(map[string]interface{}, len(node))
	for k, v := range node {
		out[k] = v
	}
	return out
}

// StringMap возвращает узел как карту строк
func (d *Document) StringMap(path string) map[string]string {
	node := d.Map(path)
	if node == nil {
		return nil
	}
	out := make(map[string]string, len(node))
	for k, v := range node {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Save сериализует документ и записывает его в бэкенд
func (d *Document) Save(ctx context.Context) error {
	d.saveMu.Lock()
	defer d.saveMu.Unlock()

	d.mu.RLock()
	data, err := yaml.Marshal(d.root)
	d.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа %s: %w", d.name, err)
	}

	return d.backend.Store(ctx, d.name, data)
}

// SaveAsync сохраняет документ в отдельной горутине. Канал получает результат и закрывается.
func (d *Document) SaveAsync() <-chan error {
	result := make(chan error, 1)
	go func() {
		defer close(result)
		err := d.Save(context.Background())
		if err != nil {
			logging.Error("❌ Асинхронное сохранение документа %s: %v", d.name, err)
		}
		result <- err
	}()
	return result
}
