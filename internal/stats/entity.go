package stats

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnrecognizedEntity is returned when an entity identifier does not have
// the shape its converter expects.
var ErrUnrecognizedEntity = errors.New("unrecognized entity identifier")

const entityDelimiter = "|"

var (
	lsomDiskWorldPattern = regexp.MustCompile(`^(PLOG|LLOG|DDP)-([a-z0-9]{8}-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{12})-(.*)`)
	lsomWorldPattern     = regexp.MustCompile(`^(VSAN)_(0x[a-f0-9]*)_(.*)`)
	heapPattern          = regexp.MustCompile(`^(.*)-(0x[a-f0-9]*)$`)
)

func unrecognized(kind, entity string) error {
	return fmt.Errorf("%w: %s %q", ErrUnrecognizedEntity, kind, entity)
}

// worldEntity is the parsed identifier of a world (ESX thread). Each
// subsystem encodes its worlds differently.
type worldEntity interface {
	labels() Labels
}

// domWorld: "<host>|<a>_<b>_<role>|<worldId>"
type domWorld struct {
	hostUUID string
	worldID  string
	role     string
}

func (w domWorld) labels() Labels {
	return NewLabels("subsystem", "DOM", "host_uuid", w.hostUUID, "world_id", w.worldID, "role", w.role)
}

// lsomDiskWorld: "<host>|<PLOG|LLOG|DDP>-<diskUuid>-<name>[|<worldId>]"
type lsomDiskWorld struct {
	subsystem string
	hostUUID  string
	diskUUID  string
	name      string
	worldID   string
}

func (w lsomDiskWorld) labels() Labels {
	l := NewLabels("subsystem", w.subsystem, "host_uuid", w.hostUUID, "disk_uuid", w.diskUUID, "name", w.name)
	if w.worldID != "" {
		l.Set("world_id", w.worldID)
	}
	return l
}

// lsomWorld: "<host>|VSAN_<0xaddr>_<subsystem>"
type lsomWorld struct {
	subsystem string
	hostUUID  string
	name      string
}

func (w lsomWorld) labels() Labels {
	return NewLabels("subsystem", w.subsystem, "host_uuid", w.hostUUID, "name", w.name)
}

// nicWorld: "<host>|<name>"
type nicWorld struct {
	hostUUID string
	name     string
}

func (w nicWorld) labels() Labels {
	return NewLabels("subsystem", "Network", "host_uuid", w.hostUUID, "name", w.name)
}

// cmmdsWorld: "<host>|<role>|<worldId>" or "<host>|<a>_<b>_<role>|<worldId>"
type cmmdsWorld struct {
	hostUUID string
	worldID  string
	role     string
}

func (w cmmdsWorld) labels() Labels {
	return NewLabels("subsystem", "CMMDS", "host_uuid", w.hostUUID, "world_id", w.worldID, "role", w.role)
}

func parseWorldEntity(node, entity string) (worldEntity, error) {
	x := strings.Split(entity, entityDelimiter)
	switch node {
	case "$getDomWorldInformation":
		if len(x) < 3 {
			return nil, unrecognized("DOM world", entity)
		}
		y := strings.Split(x[1], "_")
		if len(y) < 3 {
			return nil, unrecognized("DOM world", entity)
		}
		return domWorld{hostUUID: x[0], worldID: x[2], role: y[2]}, nil

	case "$getLsomWorldInformation":
		if len(x) < 2 {
			return nil, unrecognized("LSOM world", entity)
		}
		if m := lsomDiskWorldPattern.FindStringSubmatch(x[1]); m != nil {
			w := lsomDiskWorld{subsystem: m[1], hostUUID: x[0], diskUUID: m[2], name: m[3]}
			if len(x) >= 3 {
				w.worldID = x[2]
			}
			return w, nil
		}
		if m := lsomWorldPattern.FindStringSubmatch(x[1]); m != nil {
			return lsomWorld{subsystem: m[3], hostUUID: x[0], name: x[1]}, nil
		}
		return nil, unrecognized("LSOM world", entity)

	case "$getNicWorldInformation":
		if len(x) < 2 {
			return nil, unrecognized("NIC world", entity)
		}
		return nicWorld{hostUUID: x[0], name: x[1]}, nil

	case "$getCmmdsWorldInformation":
		if len(x) < 3 {
			return nil, unrecognized("CMMDS world", entity)
		}
		role := x[1]
		if y := strings.Split(x[1], "_"); len(y) > 1 {
			if len(y) < 3 {
				return nil, unrecognized("CMMDS world", entity)
			}
			role = y[2]
		}
		return cmmdsWorld{hostUUID: x[0], worldID: x[2], role: role}, nil
	}
	return nil, fmt.Errorf("%w: no world parser for node %s", ErrUnrecognizedEntity, node)
}

// heapEntity: "<host>|<heapName>-<0xid>"
type heapEntity struct {
	hostUUID string
	raw      string
	name     string
	id       string
}

func parseHeapEntity(entity string) (heapEntity, error) {
	x := strings.Split(entity, entityDelimiter)
	if len(x) < 2 {
		return heapEntity{}, unrecognized("heap", entity)
	}
	m := heapPattern.FindStringSubmatch(x[1])
	if m == nil {
		return heapEntity{}, unrecognized("heap", entity)
	}
	return heapEntity{hostUUID: x[0], raw: x[1], name: m[1], id: m[2]}, nil
}

// slabEntity: "<host>|<slabName>"
type slabEntity struct {
	hostUUID string
	name     string
}

func parseSlabEntity(entity string) (slabEntity, error) {
	x := strings.SplitN(entity, entityDelimiter, 3)
	if len(x) != 2 {
		return slabEntity{}, unrecognized("slab", entity)
	}
	return slabEntity{hostUUID: x[0], name: x[1]}, nil
}

// vmknicEntity: "<host>|<stack>|<vmknic>"
type vmknicEntity struct {
	hostUUID string
	stack    string
	vmknic   string
}

func parseVmknicEntity(entity string) (vmknicEntity, error) {
	x := strings.Split(entity, entityDelimiter)
	if len(x) < 3 {
		return vmknicEntity{}, unrecognized("vmknic", entity)
	}
	return vmknicEntity{hostUUID: x[0], stack: x[1], vmknic: x[2]}, nil
}

// pnicEntity: "<host>|<vmnic>"
type pnicEntity struct {
	hostUUID string
	vmnic    string
}

func parsePnicEntity(entity string) (pnicEntity, error) {
	x := strings.Split(entity, entityDelimiter)
	if len(x) < 2 {
		return pnicEntity{}, unrecognized("pnic", entity)
	}
	return pnicEntity{hostUUID: x[0], vmnic: x[1]}, nil
}

// vscsiEntity: "<vmInstanceUuid>|<vscsiName>"
type vscsiEntity struct {
	vmInstanceUUID string
	name           string
}

func parseVscsiEntity(entity string) (vscsiEntity, error) {
	x := strings.Split(entity, entityDelimiter)
	if len(x) != 2 {
		return vscsiEntity{}, unrecognized("vscsi", entity)
	}
	return vscsiEntity{vmInstanceUUID: x[0], name: x[1]}, nil
}
