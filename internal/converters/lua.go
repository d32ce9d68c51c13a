package converters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	lua "github.com/yuin/gopher-lua"

	"zigbee-descriptors/internal/descriptor"
	"zigbee-descriptors/internal/reporting"
)

const (
	luaEndpointType = "zigbee.endpoint"
	luaTargetType   = "zigbee.bind_target"
	luaErrorType    = "zigbee.error"
)

// LoadLua reads a scripted descriptor. The script must return a table:
//
//	return {
//	  zigbee_model = "ESP32C6.Light",
//	  manufacturer_name = "Espressif",
//	  model = "M5NanoC6-Light",
//	  vendor = "M5Stack",
//	  description = "On/off light",
//	  extend = "switch",
//	  endpoint = 10,
//	  configure = function(device, coordinator, topology)
//	    local ep = device:endpoint(10)
//	    reporting.bind(ep, coordinator, {"genOnOff"})
//	    reporting.on_off(ep)
//	  end,
//	}
//
// The script is evaluated again in a fresh state for every configure call.
func LoadLua(path string) (descriptor.Descriptor, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseLua(string(src), path)
}

// ParseLua evaluates a scripted descriptor from source. source names the
// script in errors and in Descriptor.Source.
func ParseLua(src, source string) (descriptor.Descriptor, error) {
	L := newLuaState()
	defer L.Close()

	// Metadata is read without a live device; hook helpers fail if called here.
	registerReportingModule(L, context.Background())

	tbl, err := evalDescriptorTable(L, src, source)
	if err != nil {
		return descriptor.Descriptor{}, err
	}

	profile, err := descriptor.ParseProfile(luaString(tbl, "extend"))
	if err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("%s: %w", source, err)
	}

	endpoint, ok := tbl.RawGetString("endpoint").(lua.LNumber)
	if !ok || endpoint < 1 || endpoint > 240 || endpoint != lua.LNumber(int(endpoint)) {
		return descriptor.Descriptor{}, fmt.Errorf("%w: %s: endpoint must be an integer 1-240", descriptor.ErrInvalid, source)
	}

	if _, ok := tbl.RawGetString("configure").(*lua.LFunction); !ok {
		return descriptor.Descriptor{}, fmt.Errorf("%w: %s: configure must be a function", descriptor.ErrInvalid, source)
	}

	d := descriptor.Descriptor{
		Identity: descriptor.IdentityKeys{
			Model:        luaString(tbl, "zigbee_model"),
			Manufacturer: luaString(tbl, "manufacturer_name"),
		},
		Model:       luaString(tbl, "model"),
		Vendor:      luaString(tbl, "vendor"),
		Description: luaString(tbl, "description"),
		Profile:     profile,
		Endpoint:    uint8(endpoint),
		Configure:   luaConfigure(src, source),
		Source:      source,
	}
	if err := d.Validate(); err != nil {
		return descriptor.Descriptor{}, fmt.Errorf("%s: %w", source, err)
	}
	return d, nil
}

func newLuaState() *lua.LState {
	L := lua.NewState()
	// Sandbox
	L.SetGlobal("os", lua.LNil)
	L.SetGlobal("io", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("require", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("debug", lua.LNil)
	L.SetGlobal("package", lua.LNil)
	return L
}

func evalDescriptorTable(L *lua.LState, src, source string) (*lua.LTable, error) {
	fn, err := L.LoadString(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s: script must return a table, got %s", descriptor.ErrInvalid, source, ret.Type())
	}
	return tbl, nil
}

func luaString(tbl *lua.LTable, key string) string {
	if s, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// luaConfigure builds a hook that re-evaluates the script and calls its
// configure function. A failure inside a runtime call is returned as the
// original Go error, not as the Lua error that carried it.
func luaConfigure(src, source string) descriptor.ConfigureFunc {
	return func(ctx context.Context, dev descriptor.DeviceSession, coordinator descriptor.BindTarget, topology descriptor.Topology) error {
		L := newLuaState()
		defer L.Close()
		L.SetContext(ctx)

		registerReportingModule(L, ctx)

		tbl, err := evalDescriptorTable(L, src, source)
		if err != nil {
			return err
		}
		fn, ok := tbl.RawGetString("configure").(*lua.LFunction)
		if !ok {
			return fmt.Errorf("%w: %s: configure must be a function", descriptor.ErrInvalid, source)
		}

		err = L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
			newLuaDevice(L, dev),
			newLuaUserData(L, coordinator, luaTargetType),
			newLuaTopology(L, topology),
		)
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			if ud, ok := apiErr.Object.(*lua.LUserData); ok {
				if hookErr, ok := ud.Value.(error); ok {
					return hookErr
				}
			}
		}
		if err != nil {
			return fmt.Errorf("%s: configure: %w", source, err)
		}
		return nil
	}
}

func newLuaUserData(L *lua.LState, v any, typeName string) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = v
	L.SetMetatable(ud, L.GetTypeMetatable(typeName))
	return ud
}

// raiseGoError raises err as a Lua error value. pcall hands the value to the
// script; uncaught, it ends configure and err is returned as is.
func raiseGoError(L *lua.LState, err error) int {
	L.Error(newLuaUserData(L, err, luaErrorType), 1)
	return 0
}

func newLuaDevice(L *lua.LState, dev descriptor.DeviceSession) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("ieee", lua.LString(dev.IEEEAddress()))
	// device:endpoint(n)
	t.RawSetString("endpoint", L.NewFunction(func(L *lua.LState) int {
		id := L.CheckInt(2)
		if id < 0 || id > 255 {
			L.ArgError(2, "endpoint out of range")
			return 0
		}
		ep, err := dev.Endpoint(uint8(id))
		if err != nil {
			return raiseGoError(L, err)
		}
		L.Push(newLuaUserData(L, ep, luaEndpointType))
		return 1
	}))
	return t
}

func newLuaTopology(L *lua.LState, topology descriptor.Topology) *lua.LTable {
	t := L.NewTable()
	devs := L.NewTable()
	for _, ieee := range topology.Devices {
		devs.Append(lua.LString(ieee))
	}
	t.RawSetString("devices", devs)
	return t
}

// registerReportingModule registers the `reporting` global table: bind,
// on_off, brightness and the interval presets.
func registerReportingModule(L *lua.LState, ctx context.Context) {
	epMeta := L.NewTypeMetatable(luaEndpointType)
	epMeta.RawSetString("__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"id": func(L *lua.LState) int {
			L.Push(lua.LNumber(checkEndpoint(L, 1).ID()))
			return 1
		},
	}))
	L.NewTypeMetatable(luaTargetType)
	errMeta := L.NewTypeMetatable(luaErrorType)
	errMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		if err, ok := ud.Value.(error); ok {
			L.Push(lua.LString(err.Error()))
		} else {
			L.Push(lua.LString(luaErrorType))
		}
		return 1
	}))

	mod := L.NewTable()

	// reporting.bind(ep, target, {"genOnOff", ...})
	mod.RawSetString("bind", L.NewFunction(func(L *lua.LState) int {
		ep := checkEndpoint(L, 1)
		target := checkTarget(L, 2)
		list := L.CheckTable(3)
		var clusters []string
		list.ForEach(func(_, v lua.LValue) {
			clusters = append(clusters, v.String())
		})
		if err := reporting.Bind(ctx, ep, target, clusters); err != nil {
			return raiseGoError(L, err)
		}
		return 0
	}))

	// reporting.on_off(ep [, {min=, max=, change=}])
	mod.RawSetString("on_off", L.NewFunction(func(L *lua.LState) int {
		ep := checkEndpoint(L, 1)
		if err := reporting.OnOff(ctx, ep, luaOverrides(L, 2)...); err != nil {
			return raiseGoError(L, err)
		}
		return 0
	}))

	// reporting.brightness(ep [, {min=, max=, change=}])
	mod.RawSetString("brightness", L.NewFunction(func(L *lua.LState) int {
		ep := checkEndpoint(L, 1)
		if err := reporting.Brightness(ctx, ep, luaOverrides(L, 2)...); err != nil {
			return raiseGoError(L, err)
		}
		return 0
	}))

	for name, v := range map[string]uint16{
		"MAX":        reporting.Max,
		"HOUR":       reporting.Hour,
		"MINUTES_30": reporting.Minutes30,
		"MINUTES_15": reporting.Minutes15,
		"MINUTES_10": reporting.Minutes10,
		"MINUTES_5":  reporting.Minutes5,
		"MINUTE":     reporting.Minute,
		"SECONDS_10": reporting.Seconds10,
	} {
		mod.RawSetString(name, lua.LNumber(v))
	}

	L.SetGlobal("reporting", mod)
}

func checkEndpoint(L *lua.LState, n int) descriptor.Endpoint {
	ud := L.CheckUserData(n)
	if ep, ok := ud.Value.(descriptor.Endpoint); ok {
		return ep
	}
	L.ArgError(n, "endpoint expected")
	return nil
}

func checkTarget(L *lua.LState, n int) descriptor.BindTarget {
	ud := L.CheckUserData(n)
	if t, ok := ud.Value.(descriptor.BindTarget); ok {
		return t
	}
	L.ArgError(n, "bind target expected")
	return nil
}

func luaOverrides(L *lua.LState, n int) []reporting.Option {
	tbl := L.OptTable(n, nil)
	if tbl == nil {
		return nil
	}
	var opts []reporting.Option
	if v, ok := overrideInt(L, n, tbl, "min", 0, math.MaxUint16); ok {
		opts = append(opts, reporting.WithMin(uint16(v)))
	}
	if v, ok := overrideInt(L, n, tbl, "max", 0, math.MaxUint16); ok {
		opts = append(opts, reporting.WithMax(uint16(v)))
	}
	// the attribute type bounds change further when it is encoded
	if v, ok := overrideInt(L, n, tbl, "change", math.MinInt32, math.MaxUint32); ok {
		opts = append(opts, reporting.WithChange(int(v)))
	}
	return opts
}

// overrideInt reads an integer field of the override table at argument n.
// Anything but an integer in [lo, hi] is an argument error.
func overrideInt(L *lua.LState, n int, tbl *lua.LTable, key string, lo, hi int64) (int64, bool) {
	lv := tbl.RawGetString(key)
	if lv == lua.LNil {
		return 0, false
	}
	num, ok := lv.(lua.LNumber)
	if !ok {
		L.ArgError(n, fmt.Sprintf("%s must be a number, got %s", key, lv.Type()))
		return 0, false
	}
	f := float64(num)
	if f != math.Trunc(f) || f < float64(lo) || f > float64(hi) {
		L.ArgError(n, fmt.Sprintf("%s must be an integer in %d..%d, got %v", key, lo, hi, num))
		return 0, false
	}
	return int64(f), true
}
