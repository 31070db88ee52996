// Package campaign implements the campaign state machine.
//
// Admin actions (send, pause, resume, cancel, duplicate, delete) and the
// terminal transition driven by the delivery worker all go through
// domain.TransitionCampaign and a compare-and-set status update, so a
// campaign never skips a state even when two callers race.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
