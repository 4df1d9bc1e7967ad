//
// web service that accepts course section rosters, course groups
// and run manifests, and aggregates the letter grades they reference
// into GPAs and grade distributions at section, course, course level
// and group scope.
// each run also compares sections, courses and groups against their
// peers with population z-scores, profiles every student across the
// run and lists the students who need work or are doing well.
// run results are stored once and can be read back or exported as csv.
//
package otfgpa
