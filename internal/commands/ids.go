package commands

// Command ids, per spec.md §6's stable id space. Representative
// entries only — the table is explicitly "not exhaustive" there.
// Subscription management (subscribe/unsubscribe/list) has no id
// range here at all: internal/subs stays interface-only per
// SPEC_FULL.md §4.8, so there is no command to assign an id to.
const (
	idPing = 0
	idEcho = 1
	idLscmd = 2

	idLoad = 14
	idSave = 15

	idFind      = 17
	idAggregate = 19

	idDel         = 23
	idHeads       = 24
	idParents     = 25
	idChildren    = 26
	idEdgeList    = 27
	idEdgeGet     = 28
	idEdgeGetMeta = 29
	idCompress    = 30
	idListCompressed = 31

	idTypeAdd   = 33
	idTypeClear = 34
	idTypeList  = 35

	idResolve = 36

	idSetParents = 37
	idSetChildren = 38
	idAddParents  = 39
	idAddChildren = 40

	idEvalBool   = 41
	idEvalDouble = 42
	idEvalString = 43
	idEvalSet    = 44

	idObjectGet   = 45
	idObjectSet   = 46
	idObjectDel   = 47
	idObjectIncr  = 48
	idArrayPush   = 49
	idArrayInsert = 50
	idArrayRemove = 51
	idObjectClear = 52

	idDelParents  = 59
	idDelChildren = 60
	idSetEdge     = 61
	idAddEdge     = 62

	idModify = 63
	idUpdate = 64

	idReplicaInit = 65
	idReplicaSync = 66
	idReplicaOf   = 67
	idReplicaInfo = 68

	idDelEdge      = 69
	idDelEdgeField = 70
)
