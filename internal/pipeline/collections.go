package pipeline

import (
	"net/url"

	"github.com/five82/c8yview/internal/c8y"
	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/entity"
)

// Collection names used for routing, logging and metrics.
const (
	NameApplications = "eplapps"
	NameAlarms       = "alarms"
	NameAlarmTypes   = "alarmtypes"
)

// Unresolved alarms, oldest first.
func alarmRequest() c8y.Request {
	return c8y.Request{
		Path:  "alarm/alarms",
		Query: url.Values{"dateFrom": {"1970-01-01"}, "resolved": {"false"}},
		Field: "alarms",
	}
}

// Applications builds the EPL application pipeline. Entities are mirrored.
func Applications(deps Deps) *Pipeline[entity.ApplicationRecord, entity.Application] {
	return New(Spec[entity.ApplicationRecord, entity.Application]{
		Name:      NameApplications,
		Title:     "EPL Apps",
		Kind:      entity.KindApplication,
		Namespace: config.NamespaceApps,
		Request: c8y.Request{
			Path:  "service/cep/eplfiles",
			Query: url.Values{"contents": {"true"}},
			Field: "eplfiles",
		},
		Map:    entity.MapApplication,
		Mirror: true,
	}, deps)
}

// Alarms builds the pipeline listing every unresolved alarm.
func Alarms(deps Deps) *Pipeline[entity.AlarmRecord, entity.Alarm] {
	return New(Spec[entity.AlarmRecord, entity.Alarm]{
		Name:      NameAlarms,
		Title:     "Alarms",
		Kind:      entity.KindAlarm,
		Namespace: config.NamespaceAlarms,
		Request:   alarmRequest(),
		Map:       entity.MapAlarm,
	}, deps)
}

// AlarmTypes builds the pipeline over the same alarms, labelled by type.
func AlarmTypes(deps Deps) *Pipeline[entity.AlarmRecord, entity.Alarm] {
	return New(Spec[entity.AlarmRecord, entity.Alarm]{
		Name:      NameAlarmTypes,
		Title:     "Alarm Types",
		Kind:      entity.KindAlarm,
		Namespace: config.NamespaceAlarmTypes,
		Request:   alarmRequest(),
		Map:       entity.MapAlarmType,
	}, deps)
}

// All builds the three pipelines in display order.
func All(deps Deps) []Handle {
	return []Handle{Applications(deps), Alarms(deps), AlarmTypes(deps)}
}
