// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
// SPDX-License-Identifier: MIT

package store

// Domain is a parent DNS suffix the platform owns. Created by bootstrap,
// never mutated by the data plane.
type Domain struct {
	ID        uint     `gorm:"primarykey" json:"-"`
	Domain    string   `gorm:"column:domain;uniqueIndex;size:255" json:"domain"`
	PublicIPs []string `gorm:"column:public_ips;serializer:json" json:"public_ips"`
	Users     []string `gorm:"column:users;serializer:json" json:"users"`
	Owner     string   `gorm:"column:owner" json:"owner"`
}

// AuthzEntry grants an alias a permission level on a zone. The data plane
// never evaluates these; they belong to the management API.
type AuthzEntry struct {
	Alias      string `json:"alias"`
	AuthzLevel int    `json:"authzlevel"`
}

// Zone is a customer-owned label under a Domain.
type Zone struct {
	ID     uint         `gorm:"primarykey" json:"-"`
	FQDN   string       `gorm:"column:fqdn;uniqueIndex;size:255" json:"fqdn"`
	Domain string       `gorm:"column:domain;index;size:255" json:"domain"`
	Authz  []AuthzEntry `gorm:"column:authz;serializer:json" json:"authz"`
}

// Rule is an ordered response program for a (zone, networkprotocol) pair.
type Rule struct {
	ID              uint            `gorm:"primarykey" json:"-"`
	RuleID          string          `gorm:"column:ruleid;uniqueIndex;size:36" json:"ruleid"`
	Zone            string          `gorm:"column:zone;index;uniqueIndex:idx_zone_prio_proto,priority:1;size:255" json:"zone"`
	Name            string          `gorm:"column:name" json:"name"`
	NetworkProtocol string          `gorm:"column:networkprotocol;uniqueIndex:idx_zone_prio_proto,priority:3;size:8" json:"networkprotocol"`
	Priority        int             `gorm:"column:priority;uniqueIndex:idx_zone_prio_proto,priority:2" json:"priority"`
	Components      []RuleComponent `gorm:"foreignKey:RuleID;references:RuleID" json:"rulecomponents"`
}

// RuleComponent is a single predicate or result of a rule. Seq preserves
// the stored order the engine must apply results in.
type RuleComponent struct {
	ID          uint   `gorm:"primarykey" json:"-"`
	RuleID      string `gorm:"column:ruleid;index;size:36" json:"-"`
	ComponentID string `gorm:"column:componentid;size:36" json:"componentid"`
	Seq         int    `gorm:"column:seq" json:"-"`
	IsPredicate bool   `gorm:"column:ispredicate" json:"ispredicate"`
	ActionName  string `gorm:"column:actionname;size:64" json:"actionname"`
	ActionValue string `gorm:"column:actionvalue" json:"actionvalue"`
}

// Interaction is one recorded request/response pair. Time is assigned at
// insertion, in Unix seconds; equal timestamps for concurrent inserts are
// expected.
type Interaction struct {
	ID          uint   `gorm:"primarykey" json:"-"`
	Time        int64  `gorm:"column:time;index:idx_zone_time,priority:2,sort:desc" json:"time"`
	Zone        string `gorm:"column:zone;index:idx_zone_time,priority:1;size:255" json:"zone"`
	FQDN        string `gorm:"column:fqdn;size:255" json:"fqdn"`
	Protocol    string `gorm:"column:protocol;size:8" json:"protocol"`
	ClientIP    string `gorm:"column:clientip;size:64" json:"clientip"`
	Request     string `gorm:"column:request" json:"request"`
	Response    string `gorm:"column:response" json:"response"`
	ReqSummary  string `gorm:"column:reqsummary" json:"reqsummary"`
	RespSummary string `gorm:"column:respsummary" json:"respsummary"`
}

// TableName keeps the historical collection name.
func (Interaction) TableName() string {
	return "requests"
}
