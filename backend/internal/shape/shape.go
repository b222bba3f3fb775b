package shape

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// 图形类型（与前端 type 字段一一对应）
const (
	TypeRect     = "rect"
	TypeCircle   = "circle"
	TypeLine     = "line"
	TypeEllipse  = "ellipse"
	TypeArrow    = "arrow"
	TypeFreehand = "freehand"
	TypeText     = "text"
	TypeDelete   = "delete"
)

var (
	ErrUnknownType = errors.New("unknown shape type")
	ErrMissingID   = errors.New("shape id is required")
	ErrTombstone   = errors.New("delete markers are created by clear")
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry 是封闭的 sum type，只有本包内的变体能实现它。
type Geometry interface {
	Kind() string
	sealed()
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Circle struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Radius  float64 `json:"radius"`
}

type Line struct {
	SX float64 `json:"sx"`
	SY float64 `json:"sy"`
	EX float64 `json:"ex"`
	EY float64 `json:"ey"`
}

type Ellipse struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	RX      float64 `json:"rx"`
	RY      float64 `json:"ry"`
}

type Arrow struct {
	SX float64 `json:"sx"`
	SY float64 `json:"sy"`
	EX float64 `json:"ex"`
	EY float64 `json:"ey"`
}

type Freehand struct {
	Points []Point `json:"points"`
}

type Text struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Lines    []string `json:"text"`
	FontSize float64  `json:"fontSize"`
}

// Tombstone 是 clear 操作留下的分界标记，没有几何信息。
type Tombstone struct{}

func (Rect) Kind() string      { return TypeRect }
func (Circle) Kind() string    { return TypeCircle }
func (Line) Kind() string      { return TypeLine }
func (Ellipse) Kind() string   { return TypeEllipse }
func (Arrow) Kind() string     { return TypeArrow }
func (Freehand) Kind() string  { return TypeFreehand }
func (Text) Kind() string      { return TypeText }
func (Tombstone) Kind() string { return TypeDelete }

func (Rect) sealed()      {}
func (Circle) sealed()    {}
func (Line) sealed()      {}
func (Ellipse) sealed()   {}
func (Arrow) sealed()     {}
func (Freehand) sealed()  {}
func (Text) sealed()      {}
func (Tombstone) sealed() {}

// Shape 画板上的一个元素。公共样式字段放在外层，几何信息放在 Geom。
type Shape struct {
	ID          int64
	Color       string
	FillColor   *string
	StrokeWidth *float64
	Opacity     *float64
	Geom        Geometry
}

func (s Shape) Type() string {
	if s.Geom == nil {
		return ""
	}
	return s.Geom.Kind()
}

func (s Shape) IsTombstone() bool {
	_, ok := s.Geom.(Tombstone)
	return ok
}

// header 是线上格式里所有变体共有的字段
type header struct {
	ID          int64    `json:"id,omitempty"`
	Type        string   `json:"type"`
	Color       string   `json:"color,omitempty"`
	FillColor   *string  `json:"fillColor,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
}

// 线上格式是扁平对象：{"id":1,"type":"rect","x":..,"y":..}
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.Geom == nil {
		return nil, ErrUnknownType
	}
	h := header{
		ID:          s.ID,
		Type:        s.Geom.Kind(),
		Color:       s.Color,
		FillColor:   s.FillColor,
		StrokeWidth: s.StrokeWidth,
		Opacity:     s.Opacity,
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	if s.IsTombstone() {
		return hb, nil
	}
	gb, err := json.Marshal(s.Geom)
	if err != nil {
		return nil, err
	}
	// 合并两个对象：去掉 header 的 '}' 和 geometry 的 '{'
	gb = bytes.TrimSpace(gb)
	if len(gb) <= 2 {
		return hb, nil
	}
	out := make([]byte, 0, len(hb)+len(gb))
	out = append(out, hb[:len(hb)-1]...)
	out = append(out, ',')
	out = append(out, gb[1:]...)
	return out, nil
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	var geom Geometry
	switch h.Type {
	case TypeRect:
		var g Rect
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeCircle:
		var g Circle
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeLine:
		var g Line
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeEllipse:
		var g Ellipse
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeArrow:
		var g Arrow
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeFreehand:
		var g Freehand
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeText:
		var g Text
		if err := json.Unmarshal(data, &g); err != nil {
			return err
		}
		geom = g
	case TypeDelete:
		geom = Tombstone{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, h.Type)
	}
	if h.ID == 0 && h.Type != TypeDelete {
		return ErrMissingID
	}
	*s = Shape{
		ID:          h.ID,
		Color:       h.Color,
		FillColor:   h.FillColor,
		StrokeWidth: h.StrokeWidth,
		Opacity:     h.Opacity,
		Geom:        geom,
	}
	return nil
}

// Decode 解析单个图形
func Decode(raw []byte) (Shape, error) {
	var s Shape
	err := json.Unmarshal(raw, &s)
	return s, err
}

// DecodeList 接受数组或单个对象，兼容旧客户端 moveShapes 只发一个图形的情况
func DecodeList(raw []byte) ([]Shape, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		s, err := Decode(raw)
		if err != nil {
			return nil, err
		}
		return []Shape{s}, nil
	}
	var list []Shape
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}
