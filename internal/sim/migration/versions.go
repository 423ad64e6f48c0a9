package migration

import "strings"

// Migration upgrades documents from the previous version to its own.
// State edits the state in place; Actions edits one action in place and
// returns false if the action has to be dropped from the history.
type Migration struct {
	State   func(state map[string]any) error
	Actions func(initial, action map[string]any) bool
}

var migrations = map[int]Migration{
	2: {State: v2State, Actions: v2Action},
	3: {State: v3State, Actions: v3Action},
	4: {State: v4State, Actions: v4Action},
	5: {State: v5State, Actions: v5Action},
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

func rename(m map[string]any, from, to string) {
	if m == nil {
		return
	}
	v, ok := m[from]
	if !ok {
		return
	}
	if _, taken := m[to]; !taken {
		m[to] = v
	}
	delete(m, from)
}

func setDefault(m map[string]any, key string, v any) {
	if m == nil {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

// entries calls f for every object stored under key, which holds an id map.
func entries(state map[string]any, key string, f func(id string, e map[string]any)) {
	for id, v := range object(state[key]) {
		if e := object(v); e != nil {
			f(id, e)
		}
	}
}

// v2: "personell" is spelled "personnel" everywhere.

var personnelSpelling = strings.NewReplacer("Personell", "Personnel", "personell", "personnel")

func v2State(s map[string]any) error {
	rename(s, "personell", "personnel")
	entries(s, "vehicles", func(_ string, v map[string]any) {
		rename(v, "personellIds", "personnelIds")
	})
	entries(s, "personnel", func(_ string, p map[string]any) {
		rename(p, "personellType", "personnelType")
	})
	for _, t := range list(s["vehicleTemplates"]) {
		rename(object(t), "personell", "personnel")
	}
	return nil
}

func v2Action(_, a map[string]any) bool {
	if t, ok := a["type"].(string); ok {
		a["type"] = personnelSpelling.Replace(t)
	}
	rename(a, "personellId", "personnelId")
	rename(a, "personell", "personnel")
	rename(object(a["vehicle"]), "personellIds", "personnelIds")
	for _, p := range list(a["personnel"]) {
		rename(object(p), "personellType", "personnelType")
	}
	for _, key := range []string{"elementToBeLoadedType", "elementToBeAddedType", "elementType"} {
		if a[key] == "personell" {
			a[key] = "personnel"
		}
	}
	return true
}

// v3: positions become tagged unions. Before, an element had either a plain
// {x,y} position, a separate transfer record, or no position while it sat
// in a vehicle.

func tagPosition(e map[string]any, vehicleID string) {
	if e == nil {
		return
	}
	if p := object(e["position"]); p != nil {
		if _, tagged := p["type"]; tagged {
			return
		}
	}
	switch {
	case object(e["transfer"]) != nil:
		e["position"] = map[string]any{"type": "transfer", "transfer": e["transfer"]}
	case object(e["position"]) != nil:
		p := object(e["position"])
		e["position"] = map[string]any{
			"type":        "coordinates",
			"coordinates": map[string]any{"x": p["x"], "y": p["y"]},
		}
	case vehicleID != "":
		e["position"] = map[string]any{"type": "vehicle", "vehicleId": vehicleID}
	}
	delete(e, "transfer")
}

func ownerVehicle(e map[string]any) string {
	id, _ := e["vehicleId"].(string)
	return id
}

func v3State(s map[string]any) error {
	carriedBy := map[string]string{}
	entries(s, "vehicles", func(id string, v map[string]any) {
		for pid := range object(v["patientIds"]) {
			carriedBy[pid] = id
		}
		tagPosition(v, "")
	})
	entries(s, "patients", func(id string, p map[string]any) {
		tagPosition(p, carriedBy[id])
	})
	entries(s, "personnel", func(_ string, p map[string]any) {
		tagPosition(p, ownerVehicle(p))
	})
	entries(s, "materials", func(_ string, m map[string]any) {
		tagPosition(m, ownerVehicle(m))
	})
	entries(s, "transferPoints", func(_ string, tp map[string]any) {
		tagPosition(tp, "")
	})
	return nil
}

func v3Action(_, a map[string]any) bool {
	tagPosition(object(a["patient"]), "")
	tagPosition(object(a["transferPoint"]), "")
	if v := object(a["vehicle"]); v != nil {
		tagPosition(v, "")
		for _, p := range list(a["personnel"]) {
			tagPosition(object(p), ownerVehicle(object(p)))
		}
		if m := object(a["material"]); m != nil {
			tagPosition(m, ownerVehicle(m))
		}
		for _, m := range list(a["materials"]) {
			tagPosition(object(m), ownerVehicle(object(m)))
		}
	}
	return true
}

// v4: vehicles carry a set of materials, regions get an own event queue and
// the participant id can no longer be changed by an action.

func materialSet(v map[string]any) {
	if v == nil {
		return
	}
	if id, ok := v["materialId"].(string); ok {
		if _, set := v["materialIds"]; !set {
			v["materialIds"] = map[string]any{id: true}
		}
	}
	delete(v, "materialId")
	setDefault(v, "materialIds", map[string]any{})
}

func regionQueues(r map[string]any) {
	setDefault(r, "ownEvents", []any{})
}

func v4State(s map[string]any) error {
	entries(s, "vehicles", func(_ string, v map[string]any) { materialSet(v) })
	entries(s, "simulatedRegions", func(_ string, r map[string]any) {
		if r["type"] != "simulatedRegionStandIn" {
			regionQueues(r)
		}
	})
	for _, t := range list(s["vehicleTemplates"]) {
		tm := object(t)
		if m, ok := tm["material"].(string); ok {
			tm["materials"] = []any{m}
			delete(tm, "material")
		}
	}
	return nil
}

func v4Action(_, a map[string]any) bool {
	switch a["type"] {
	case "[Exercise] Set Participant Id":
		return false
	case "[Vehicle] Add vehicle":
		materialSet(object(a["vehicle"]))
		if m := object(a["material"]); m != nil {
			a["materials"] = []any{m}
		}
		delete(a, "material")
		setDefault(a, "materials", []any{})
	case "[SimulatedRegion] Add simulated region":
		regionQueues(object(a["simulatedRegion"]))
	}
	return true
}

// v5: treatment bookkeeping on patients, patient lists on hospitals and an
// explicit treatment refresh flag on ticks.

func patientDefaults(p map[string]any) {
	setDefault(p, "treatmentTime", 0)
	setDefault(p, "visibleStatusChanged", false)
}

func v5State(s map[string]any) error {
	entries(s, "patients", func(_ string, p map[string]any) { patientDefaults(p) })
	byHospital := map[string]map[string]any{}
	entries(s, "hospitalPatients", func(id string, hp map[string]any) {
		h, _ := hp["hospitalId"].(string)
		if byHospital[h] == nil {
			byHospital[h] = map[string]any{}
		}
		byHospital[h][id] = true
	})
	entries(s, "hospitals", func(id string, h map[string]any) {
		ids := byHospital[id]
		if ids == nil {
			ids = map[string]any{}
		}
		setDefault(h, "patientIds", ids)
	})
	return nil
}

func v5Action(_, a map[string]any) bool {
	switch a["type"] {
	case "[Exercise] Tick":
		setDefault(a, "refreshTreatments", false)
	case "[Patient] Add patient":
		patientDefaults(object(a["patient"]))
	case "[Hospital] Add hospital":
		setDefault(object(a["hospital"]), "patientIds", map[string]any{})
	}
	return true
}
