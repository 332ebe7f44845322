// Package network classifies world positions as resource participants and moves resources between
// the participants of each connected network once per tick.
package network

import (
	"fmt"
	"strings"
)

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (p Pos) Add(o Pos) Pos { return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z} }

// Neighbor is the position one step away in direction d.
func (p Pos) Neighbor(d Dir) Pos { return p.Add(d.Offset()) }

// Less orders positions by X, then Y, then Z.
func (p Pos) Less(o Pos) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.Z < o.Z
}

func (p Pos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

// Dir is one of the six axis-aligned faces.
type Dir uint8

const (
	DirDown Dir = iota
	DirUp
	DirNorth
	DirSouth
	DirWest
	DirEast
)

// Dirs lists every direction in a fixed order; traversal always uses this order.
var Dirs = [...]Dir{DirDown, DirUp, DirNorth, DirSouth, DirWest, DirEast}

var dirOffsets = [...]Pos{
	DirDown:  {Y: -1},
	DirUp:    {Y: 1},
	DirNorth: {Z: -1},
	DirSouth: {Z: 1},
	DirWest:  {X: -1},
	DirEast:  {X: 1},
}

var dirNames = [...]string{"down", "up", "north", "south", "west", "east"}

func (d Dir) Offset() Pos { return dirOffsets[d] }

func (d Dir) Opposite() Dir { return d ^ 1 }

func (d Dir) String() string {
	if int(d) < len(dirNames) {
		return dirNames[d]
	}
	return fmt.Sprintf("dir(%d)", d)
}

// DirMask is a set of faces.
type DirMask uint8

const AllDirs DirMask = 1<<len(Dirs) - 1

func MaskOf(dirs ...Dir) DirMask {
	var m DirMask
	for _, d := range dirs {
		m |= 1 << d
	}
	return m
}

func (m DirMask) Has(d Dir) bool        { return m&(1<<d) != 0 }
func (m DirMask) With(d Dir) DirMask    { return m | 1<<d }
func (m DirMask) Without(d Dir) DirMask { return m &^ (1 << d) }

// Type is a resource type. Networks of different types never merge.
type Type uint8

const (
	TypeEnergy Type = iota + 1
	TypeFluid
	TypeItem
)

// Types lists the resource types in tick order.
var Types = [...]Type{TypeEnergy, TypeFluid, TypeItem}

func (t Type) String() string {
	switch t {
	case TypeEnergy:
		return "energy"
	case TypeFluid:
		return "fluid"
	case TypeItem:
		return "item"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}

// Role is the set of parts a position plays in one resource type's network.
type Role uint8

const (
	// RoleNode carries connectivity and holds nothing (cables).
	RoleNode Role = 1 << iota
	RoleRequester
	RoleProvider

	RoleBuffer = RoleRequester | RoleProvider
)

func (r Role) Has(o Role) bool { return r&o == o && o != 0 }

// IsMember reports whether r requests or provides.
func (r Role) IsMember() bool { return r&RoleBuffer != 0 }

func (r Role) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&RoleNode != 0 {
		parts = append(parts, "node")
	}
	if r&RoleRequester != 0 {
		parts = append(parts, "requester")
	}
	if r&RoleProvider != 0 {
		parts = append(parts, "provider")
	}
	return strings.Join(parts, "|")
}

// ParseRole reads one role name as written in block and layout configs.
func ParseRole(name string) (Role, bool) {
	switch name {
	case "node":
		return RoleNode, true
	case "requester":
		return RoleRequester, true
	case "provider":
		return RoleProvider, true
	case "buffer":
		return RoleBuffer, true
	}
	return 0, false
}

// Record is one position's participation in one resource type.
type Record struct {
	Pos   Pos
	Type  Type
	Roles Role
	Dirs  DirMask
}
