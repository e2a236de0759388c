package dispatch

// Operation names a domain operation. The value doubles as the local RPC
// procedure ("router.procedure") that serves it.
type Operation string

func (o Operation) String() string { return string(o) }

// Session operations.
const (
	OpCreateSession           Operation = "session.createSession"
	OpCloneSession            Operation = "session.cloneSession"
	OpGetGroupedSessions      Operation = "session.getGroupedSessions"
	OpCountSessions           Operation = "session.countSessions"
	OpRankSessions            Operation = "session.rankSessions"
	OpUpdateSession           Operation = "session.updateSession"
	OpUpdateSessionConfig     Operation = "session.updateSessionConfig"
	OpUpdateSessionChatConfig Operation = "session.updateSessionChatConfig"
	OpSearchSessions          Operation = "session.searchSessions"
	OpRemoveSession           Operation = "session.removeSession"
	OpRemoveAllSessions       Operation = "session.removeAllSessions"

	OpCreateSessionGroup      Operation = "sessionGroup.createSessionGroup"
	OpRemoveSessionGroup      Operation = "sessionGroup.removeSessionGroup"
	OpRemoveAllSessionGroups  Operation = "sessionGroup.removeAllSessionGroups"
	OpUpdateSessionGroup      Operation = "sessionGroup.updateSessionGroup"
	OpUpdateSessionGroupOrder Operation = "sessionGroup.updateSessionGroupOrder"
)

// Message operations.
const (
	OpCreateMessage             Operation = "message.createMessage"
	OpGetMessages               Operation = "message.getMessages"
	OpCountMessages             Operation = "message.count"
	OpUpdateMessage             Operation = "message.update"
	OpUpdateMessageMetadata     Operation = "message.updateMetadata"
	OpRemoveMessage             Operation = "message.removeMessage"
	OpRemoveMessages            Operation = "message.removeMessages"
	OpRemoveMessagesByAssistant Operation = "message.removeMessagesByAssistant"
	OpRemoveAllMessages         Operation = "message.removeAllMessages"
)

// Topic operations.
const (
	OpCreateTopic           Operation = "topic.createTopic"
	OpGetTopics             Operation = "topic.getTopics"
	OpGetAllTopics          Operation = "topic.getAllTopics"
	OpCountTopics           Operation = "topic.countTopics"
	OpSearchTopics          Operation = "topic.searchTopics"
	OpUpdateTopic           Operation = "topic.updateTopic"
	OpRemoveTopic           Operation = "topic.removeTopic"
	OpRemoveTopicsBySession Operation = "topic.batchDeleteBySessionId"
	OpBatchRemoveTopics     Operation = "topic.batchDelete"
	OpRemoveAllTopics       Operation = "topic.removeAllTopics"
)

// Thread operations.
const (
	OpGetThreads              Operation = "thread.getThreads"
	OpCreateThreadWithMessage Operation = "thread.createThreadWithMessage"
	OpUpdateThread            Operation = "thread.updateThread"
	OpRemoveThread            Operation = "thread.removeThread"
)

// Plugin operations.
const (
	OpGetInstalledPlugins Operation = "plugin.getPlugins"
	OpInstallPlugin       Operation = "plugin.createOrInstallPlugin"
	OpUninstallPlugin     Operation = "plugin.removePlugin"
	OpUpdatePlugin        Operation = "plugin.updatePlugin"
	OpRemoveAllPlugins    Operation = "plugin.removeAllPlugins"
	OpGetPluginList       Operation = "market.getPluginList"
)

// Knowledge base operations.
const (
	OpListKnowledgeBases  Operation = "knowledgeBase.getKnowledgeBases"
	OpCreateKnowledgeBase Operation = "knowledgeBase.createKnowledgeBase"
	OpUpdateKnowledgeBase Operation = "knowledgeBase.updateKnowledgeBase"
	OpRemoveKnowledgeBase Operation = "knowledgeBase.removeKnowledgeBase"
)

// Global configuration operations.
const (
	OpGetGlobalConfig       Operation = "config.getGlobalConfig"
	OpGetDefaultAgentConfig Operation = "config.getDefaultAgentConfig"
)

// User operations.
const (
	OpUpdatePreference Operation = "user.updatePreference"
	OpUpdateSettings   Operation = "user.updateSettings"
	OpResetSettings    Operation = "user.resetSettings"
	OpLoadPreferences  Operation = "user.getPreferences"
)

// AI chat operations.
const (
	OpSendMessage  Operation = "aiChat.sendMessageInServer"
	OpGenerateJSON Operation = "aiChat.outputJSON"
)
